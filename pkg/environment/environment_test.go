package environment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/tokenstore/pkg/environment"
)

func TestParse(t *testing.T) {
	tests := map[string]environment.Environment{
		"production": environment.Production,
		"prod":       environment.Production,
		" PROD ":     environment.Production,
		"staging":    environment.Staging,
		"stage":      environment.Staging,
		"dev":        environment.Development,
		"":           environment.Development,
		"whatever":   environment.Development,
	}
	for in, want := range tests {
		assert.Equal(t, want, environment.Parse(in), "input %q", in)
	}
}

func TestContext(t *testing.T) {
	ctx := environment.WithContext(context.Background(), environment.Staging)
	assert.Equal(t, environment.Staging, environment.FromContext(ctx))
	assert.Equal(t, environment.Environment(""), environment.FromContext(context.Background()))
	//nolint:staticcheck // nil context is the case under test
	assert.Equal(t, environment.Environment(""), environment.FromContext(nil))
}

func TestLoggerExtractor(t *testing.T) {
	extract := environment.LoggerExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	attr, ok := extract(environment.WithContext(context.Background(), environment.Production))
	assert.True(t, ok)
	assert.Equal(t, "env", attr.Key)
	assert.Equal(t, "production", attr.Value.String())
}
