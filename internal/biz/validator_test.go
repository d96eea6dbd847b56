package biz

import (
	"bytes"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
)

func newTestValidator() *RequestValidator {
	return NewRequestValidator(testProtectionConf(), log.DefaultLogger)
}

func TestValidate(t *testing.T) {
	v := newTestValidator()

	deepJSON := []byte(`[[[[[1]]]]]`) // depth 5 > max 4
	manyElements := []byte(`[1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18,19,20,21]`)

	tests := []struct {
		name       string
		meta       *RequestMeta
		wantPassed bool
		wantReason string
	}{
		{
			name: "valid json body",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        []byte(`{"scenario":"flood","params":{"n":3}}`),
			},
			wantPassed: true,
		},
		{
			name: "empty body passes",
			meta: &RequestMeta{
				Endpoint: "/v1/simulations",
			},
			wantPassed: true,
		},
		{
			name: "content type with charset parameter",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json; charset=utf-8",
				Body:        []byte(`{"scenario":"x"}`),
			},
			wantPassed: true,
		},
		{
			name: "declared length over limit",
			meta: &RequestMeta{
				Endpoint:      "/v1/simulations",
				ContentType:   "application/json",
				ContentLength: 4096,
				Body:          []byte(`{}`),
			},
			wantPassed: false,
			wantReason: ReasonContentTooLarge,
		},
		{
			name: "body over limit",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        bytes.Repeat([]byte("a"), 2048),
			},
			wantPassed: false,
			wantReason: ReasonContentTooLarge,
		},
		{
			name: "unsupported content type",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "text/xml",
				Body:        []byte(`<run/>`),
			},
			wantPassed: false,
			wantReason: ReasonUnsupportedContentType,
		},
		{
			name: "invalid utf8",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        []byte{'"', 0xff, 0xfe, '"'},
			},
			wantPassed: false,
			wantReason: ReasonInvalidEncoding,
		},
		{
			name: "embedded null byte",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        []byte("{\"a\":\"b\x00c\"}"),
			},
			wantPassed: false,
			wantReason: ReasonEmbeddedNull,
		},
		{
			name: "malformed json",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        []byte(`{"scenario":`),
			},
			wantPassed: false,
			wantReason: ReasonMalformedBody,
		},
		{
			name: "nesting too deep",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        deepJSON,
			},
			wantPassed: false,
			wantReason: ReasonNestingTooDeep,
		},
		{
			name: "too many elements",
			meta: &RequestMeta{
				Endpoint:    "/v1/simulations",
				ContentType: "application/json",
				Body:        manyElements,
			},
			wantPassed: false,
			wantReason: ReasonTooManyElements,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.meta)
			assert.Equal(t, tt.wantPassed, res.Passed)
			if !tt.wantPassed {
				assert.Equal(t, tt.wantReason, res.ReasonCode)
			}
		})
	}
}

func TestValidate_NilMetaPanics(t *testing.T) {
	v := newTestValidator()
	assert.Panics(t, func() { v.Validate(nil) })
}

func TestValidate_NonJSONAllowedTypeSkipsShapeCheck(t *testing.T) {
	p := testProtectionConf()
	p.Validation.AllowedContentTypes["/v1/uploads"] = []string{"application/octet-stream"}
	v := NewRequestValidator(p, log.DefaultLogger)

	res := v.Validate(&RequestMeta{
		Endpoint:    "/v1/uploads",
		ContentType: "application/octet-stream",
		Body:        []byte(`definitely { not json`),
	})
	assert.True(t, res.Passed)
}
