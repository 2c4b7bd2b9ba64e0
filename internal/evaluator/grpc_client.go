package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs/pkg/errgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/interviewd/internal/domain"
)

// evaluateMethod is the unary RPC served by the remote judge. Request and response
// are google.protobuf.Struct values so no generated stubs are needed.
const evaluateMethod = "/interview.v1.AnswerEvaluator/Evaluate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcConfig holds configuration for the remote evaluator client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcEvaluator calls a remote answer judge over gRPC.
type GrpcEvaluator struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGrpcEvaluator connects to the judge and waits until the channel is ready.
func NewGrpcEvaluator(cfg GrpcConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to evaluator at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad evaluator endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("evaluator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to answer evaluator", "address", cfg.Address)

	return &GrpcEvaluator{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Evaluate asks the remote judge for a verdict.
func (e *GrpcEvaluator) Evaluate(ctx context.Context, q domain.Question, answer string) (Verdict, error) {
	options := make([]any, len(q.Options))
	for i, o := range q.Options {
		options[i] = o
	}

	req, err := structpb.NewStruct(map[string]any{
		"question_id": q.ID,
		"prompt":      q.Prompt,
		"answer_type": string(q.AnswerType),
		"options":     options,
		"answer":      answer,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: build request: %v", domain.ErrEvaluator, err)
	}

	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, evaluateMethod, req, resp); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", domain.ErrEvaluator, errgrpc.ToNative(err))
	}

	fields := resp.GetFields()
	return Verdict{
		Accepted: fields["accepted"].GetBoolValue(),
		Reason:   fields["reason"].GetStringValue(),
	}, nil
}

// Close closes the gRPC connection.
func (e *GrpcEvaluator) Close() {
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			e.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
