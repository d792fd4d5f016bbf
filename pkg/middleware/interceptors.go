// Package middleware содержит gRPC interceptors служебного сервера
// (health checks): recovery, trace ID из metadata и логирование.
package middleware

import (
	"context"
	"path"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"example.com/tap-checkout/pkg/logger"
)

// Ключи metadata.
const (
	TraceIDKey       = "x-trace-id"
	CorrelationIDKey = "x-correlation-id"
)

// UnaryInterceptors возвращает цепочку: recovery первым, затем trace и логирование.
func UnaryInterceptors() []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		RecoveryUnaryInterceptor(),
		TracingUnaryInterceptor(),
		LoggingUnaryInterceptor(),
	}
}

// StreamInterceptors — цепочка для stream RPC (health Watch).
func StreamInterceptors() []grpc.StreamServerInterceptor {
	return []grpc.StreamServerInterceptor{
		RecoveryStreamInterceptor(),
	}
}

// RecoveryUnaryInterceptor превращает панику handler в codes.Internal.
func RecoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Ctx(ctx).Error().
					Str("grpc_method", info.FullMethod).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Перехвачена паника в gRPC handler")
				err = status.Error(codes.Internal, "Внутренняя ошибка сервера")
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor — то же для stream RPC.
func RecoveryStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("grpc_method", info.FullMethod).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Перехвачена паника в gRPC stream handler")
				err = status.Error(codes.Internal, "Внутренняя ошибка сервера")
			}
		}()
		return handler(srv, ss)
	}
}

// TracingUnaryInterceptor берёт trace_id и correlation_id из metadata
// либо генерирует новые, и кладёт их в context и в логгер.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		traceID := metadataValue(ctx, TraceIDKey)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		correlationID := metadataValue(ctx, CorrelationIDKey)
		if correlationID == "" {
			correlationID = traceID
		}

		ctx = logger.NewContextWithIDs(ctx, traceID, correlationID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(TraceIDKey, traceID))

		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor логирует метод, код ответа и длительность.
func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		log := logger.FromContext(ctx)
		event := log.Debug()
		if err != nil {
			event = log.Error().Err(err)
		}
		event.
			Str("grpc_service", path.Dir(info.FullMethod)[1:]).
			Str("grpc_method", path.Base(info.FullMethod)).
			Str("grpc_code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC запрос")

		return resp, err
	}
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
