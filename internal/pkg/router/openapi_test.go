package router

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The served OpenAPI document must stay loadable and must keep describing
// every registered route.
func TestOpenAPIDocumentValidates(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	expected := []string{
		"/checkout",
		"/upsell",
		"/products",
		"/purchases",
		"/stats",
		"/webhooks/stripe",
		"/webhooks/airwallex",
		"/webhooks/copecart",
	}
	for _, path := range expected {
		assert.NotNil(t, doc.Paths.Find(path), "missing path %s", path)
	}
}
