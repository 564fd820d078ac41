package kafka

import "strings"

// envKey maps MAPDISPATCH_KAFKA__CHECKPOINT__COMMIT_INTERVAL to
// checkpoint__commit_interval; the provider splits on "__".
func envKey(prefix string) func(string) string {
	return func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, prefix))
	}
}
