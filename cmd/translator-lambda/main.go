// Package main 以 AWS Lambda 函数的方式处理单个翻译任务
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/app"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/config"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/jobs"
	"github.com/nerdneilsfield/go-translator-pipeline/internal/logger"
	"go.uber.org/zap"
)

// WarmupSource 定时预热事件的来源标识
const WarmupSource = "warmup"

// Request 调用参数
type Request struct {
	JobID  string `json:"jobId"`
	Source string `json:"source,omitempty"`
}

// Response 任务处理结果
type Response struct {
	JobID         string             `json:"jobId,omitempty"`
	Status        string             `json:"status"`
	Progress      int                `json:"progress"`
	OutputRef     string             `json:"outputRef,omitempty"`
	FailureReason jobs.FailureReason `json:"failureReason,omitempty"`
}

type handler struct {
	app    *app.App
	logger *zap.Logger
}

// handle 处理一次调用，任务失败体现在返回的状态中而不是错误中
func (h *handler) handle(ctx context.Context, event json.RawMessage) (*Response, error) {
	var req Request
	if err := json.Unmarshal(event, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.Source == WarmupSource {
		return &Response{Status: "warm"}, nil
	}
	if req.JobID == "" {
		return nil, errors.New("invalid request: jobId is required")
	}

	log := h.logger.With(zap.String("job_id", req.JobID))
	log.Info("lambda invocation started")

	job, err := h.app.ProcessJob(ctx, req.JobID)
	if err != nil {
		log.Error("lambda invocation failed", zap.Error(err))
		return nil, err
	}

	log.Info("lambda invocation finished", zap.String("status", string(job.Status)))
	return &Response{
		JobID:         job.ID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		OutputRef:     job.OutputRef,
		FailureReason: job.FailureReason,
	}, nil
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		panic(err)
	}
	log := logger.NewLogger(cfg.Debug)
	defer func() {
		_ = log.Sync()
	}()

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("failed to build pipeline", zap.Error(err))
	}
	defer a.Close()

	h := &handler{app: a, logger: log}
	lambda.Start(h.handle)
}
