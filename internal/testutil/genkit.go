package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// SetupGenkit initializes a plugin-free Genkit instance for tests. Mock
// models and embedders are registered on it by the caller.
func SetupGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()

	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("initializing genkit")
	}
	return g
}
