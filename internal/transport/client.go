package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Client struct {
	cc     *grpc.ClientConn
	health healthpb.HealthClient
}

func Dial(port int) (*Client, error) {
	return dial(fmt.Sprintf("localhost:%d", port))
}

func dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, health: healthpb.NewHealthClient(cc)}, nil
}

// Serving reports whether the pipeline service is SERVING.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) Close() error { return c.cc.Close() }
