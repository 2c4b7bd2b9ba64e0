package evaluator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/containerd/errdefs"

	"github.com/ashureev/interviewd/internal/domain"
)

type judgeFunc func(*structpb.Struct) (*structpb.Struct, error)

func startJudge(t *testing.T, judge judgeFunc) *GrpcEvaluator {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "interview.v1.AnswerEvaluator",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Evaluate",
			Handler: func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return judge(in)
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGrpcConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	ev, err := NewGrpcEvaluator(cfg, nil, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(ev.Close)
	return ev
}

func TestGrpcEvaluator_Verdicts(t *testing.T) {
	var seen *structpb.Struct
	ev := startJudge(t, func(in *structpb.Struct) (*structpb.Struct, error) {
		seen = in
		accepted := len(in.GetFields()["answer"].GetStringValue()) > 3
		return structpb.NewStruct(map[string]any{"accepted": accepted, "reason": "too short"})
	})

	q := domain.Question{ID: "q1", Prompt: "Name?", AnswerType: domain.AnswerSingleChoice, Options: []string{"a", "b"}}

	v, err := ev.Evaluate(context.Background(), q, "John Doe")
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	assert.Equal(t, "q1", seen.GetFields()["question_id"].GetStringValue())
	assert.Len(t, seen.GetFields()["options"].GetListValue().GetValues(), 2)

	v, err = ev.Evaluate(context.Background(), q, "Jo")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, "too short", v.Reason)
}

func TestGrpcEvaluator_ErrorsAreTranslated(t *testing.T) {
	ev := startJudge(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model overloaded")
	})

	_, err := ev.Evaluate(context.Background(), domain.Question{ID: "q1"}, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEvaluator)
	assert.True(t, errdefs.IsUnavailable(err))
}
