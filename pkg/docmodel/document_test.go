package docmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentGetNestedPath(t *testing.T) {
	doc := MapVal(map[string]Document{
		"address": MapVal(map[string]Document{
			"city": StringVal("Porto"),
		}),
	})

	assert.True(t, doc.Get("address.city").Equal(StringVal("Porto")))
	assert.True(t, doc.Get("address.zip").Equal(Null()))
	assert.True(t, doc.Get("missing").Equal(Null()))
}

func TestDocumentEqualIsMapOrderIndependent(t *testing.T) {
	a := MapVal(map[string]Document{"x": IntVal(1), "y": IntVal(2)})
	b := MapVal(map[string]Document{"y": IntVal(2), "x": IntVal(1)})
	assert.True(t, a.Equal(b))
}

func TestDocumentEqualArrayOrderSensitive(t *testing.T) {
	a := ArrayVal(IntVal(1), IntVal(2))
	b := ArrayVal(IntVal(2), IntVal(1))
	assert.False(t, a.Equal(b))
}

func TestDocumentDepthAndNodeCount(t *testing.T) {
	leaf := StringVal("leaf")
	nested := MapVal(map[string]Document{"a": MapVal(map[string]Document{"b": leaf})})

	assert.Equal(t, 3, nested.Depth())
	assert.Equal(t, 3, nested.NodeCount())
}

func TestValidateRejectsOversizedTree(t *testing.T) {
	doc := StringVal("x")
	for i := 0; i < MaxDepth+1; i++ {
		doc = ArrayVal(doc)
	}
	assert.Error(t, doc.Validate())
}

func TestValidateCollection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "users", false},
		{"valid with underscore", "order_items", false},
		{"empty", "", true},
		{"reserved prefix", "_system_config", true},
		{"invalid leading digit", "1users", true},
		{"too long", string(make([]byte, 65)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollection(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDocumentID(t *testing.T) {
	assert.NoError(t, ValidateDocumentID("u1"))
	assert.Error(t, ValidateDocumentID(""))
	assert.Error(t, ValidateDocumentID(string(make([]byte, 256))))
}
