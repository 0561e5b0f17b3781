package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xhad/pdfchat/internal/types"
)

func TestNext(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		stage Stage
		err   error
		want  Stage
	}{
		{StageRoute, nil, StageRetrieve},
		{StageRetrieve, nil, StageGenerate},
		{StageGenerate, nil, StageAssemble},
		{StageAssemble, nil, StageCompleted},
		{StageRoute, boom, StageErrorHandler},
		{StageRetrieve, boom, StageErrorHandler},
		{StageGenerate, boom, StageErrorHandler},
		{StageAssemble, boom, StageErrorHandler},
		{StageErrorHandler, nil, StageFailed},
		{StageErrorHandler, boom, StageFailed},
		{StageCompleted, boom, StageCompleted},
		{StageFailed, nil, StageFailed},
		{Stage("bogus"), nil, StageErrorHandler},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.stage, tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, next(tt.stage, tt.err))
		})
	}
}

func TestErrorInfo(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"service", &types.ServiceError{Service: "embedding", Err: context.DeadlineExceeded}, CodeServiceUnavailable},
		{"malformed", &types.GenerationError{Agent: "mcq", Reason: "x"}, CodeMalformedGeneration},
		{"dimensions", &types.DimensionError{Expected: 3, Got: 2}, CodeConfiguration},
		{"unknown agent", fmt.Errorf("%w: poetry", ErrUnknownAgent), CodeUnknownAgent},
		{"cancelled", context.Canceled, CodeCancelled},
		{"wrapped deadline", fmt.Errorf("querying index: %w", context.DeadlineExceeded), CodeCancelled},
		{"other", errors.New("disk full"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := errorInfo(tt.err)
			assert.Equal(t, tt.want, info.Code)
			assert.Equal(t, tt.err.Error(), info.Message)
			assert.NotEmpty(t, userMessage(info.Code))
		})
	}
}
