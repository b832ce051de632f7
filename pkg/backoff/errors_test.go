package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"uncategorized defaults to transient", base, Transient},
		{"transient", NewTransientError(base), Transient},
		{"permanent", NewPermanentError(base), Fatal},
		{"wrapped permanent", fmt.Errorf("resolve url: %w", NewPermanentError(base)), Fatal},
		{"context canceled", fmt.Errorf("fetch: %w", context.Canceled), Fatal},
		{"deadline exceeded is transient", context.DeadlineExceeded, Transient},
		{"transient wrapping canceled keeps tag", NewTransientError(context.Canceled), Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.Equal(t, tt.want == Transient, IsTransient(tt.err))
			assert.Equal(t, tt.want == Fatal, IsPermanent(tt.err))
		})
	}
}

func TestCategorizedErrorKeepsMessageAndChain(t *testing.T) {
	base := errors.New("401 unauthorized")
	err := NewPermanentError(base)

	assert.Equal(t, "401 unauthorized", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Nil(t, NewTransientError(nil))
	assert.Nil(t, NewPermanentError(nil))
	assert.Equal(t, "permanent", CategoryPermanent.String())
	assert.Equal(t, "fatal", Fatal.String())
}
