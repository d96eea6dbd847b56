package biz

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"Bastion/internal/conf"
	"Bastion/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Validation reason codes. Each identifies exactly one failed check so
// denials stay debuggable during an attack.
const (
	ReasonContentTooLarge        = "CONTENT_TOO_LARGE"
	ReasonUnsupportedContentType = "UNSUPPORTED_CONTENT_TYPE"
	ReasonInvalidEncoding        = "INVALID_ENCODING"
	ReasonEmbeddedNull           = "EMBEDDED_NULL"
	ReasonNestingTooDeep         = "NESTING_TOO_DEEP"
	ReasonTooManyElements        = "TOO_MANY_ELEMENTS"
	ReasonMalformedBody          = "MALFORMED_BODY"
)

// RequestMeta is the request surface the validator inspects. The body is
// a copy owned by the caller; the validator never mutates it.
type RequestMeta struct {
	IP            string
	UserID        string
	Endpoint      string
	ContentType   string
	ContentLength int64
	Body          []byte
}

// RequestValidator performs structural sanity checks on inbound requests.
// It is stateless and side-effect-free; the only shared state is the
// read-only configuration, so a single instance serves all goroutines.
type RequestValidator struct {
	cfg    *conf.Protection_Validation
	logger *log.Helper
}

// NewRequestValidator creates a new request validator.
func NewRequestValidator(p *conf.Protection, logger log.Logger) *RequestValidator {
	return &RequestValidator{
		cfg:    p.Validation,
		logger: log.NewHelper(logger),
	}
}

// MaxContentLength returns the configured body size cap in bytes.
func (v *RequestValidator) MaxContentLength() int64 {
	return v.cfg.MaxContentLength
}

// Validate runs the checks in order: content length, content type,
// structural body sanity. Malformed input yields a failed result, never a
// panic; a nil meta is a programmer error and does panic.
func (v *RequestValidator) Validate(meta *RequestMeta) model.ValidationResult {
	if meta == nil {
		panic("validator: nil request metadata")
	}

	if meta.ContentLength > v.cfg.MaxContentLength {
		return failed(ReasonContentTooLarge, "content_length")
	}

	if len(meta.Body) == 0 {
		return passed()
	}
	if int64(len(meta.Body)) > v.cfg.MaxContentLength {
		return failed(ReasonContentTooLarge, "body")
	}

	mediaType := normalizeContentType(meta.ContentType)
	if !v.contentTypeAllowed(meta.Endpoint, mediaType) {
		return failed(ReasonUnsupportedContentType, "content_type")
	}

	if !utf8.Valid(meta.Body) {
		return failed(ReasonInvalidEncoding, "body")
	}
	if bytes.IndexByte(meta.Body, 0) >= 0 {
		return failed(ReasonEmbeddedNull, "body")
	}

	if isJSONType(mediaType) {
		if res := v.checkJSONShape(meta.Body); !res.Passed {
			return res
		}
	}

	return passed()
}

// contentTypeAllowed checks the endpoint-specific allow-list, falling back
// to the "*" default list.
func (v *RequestValidator) contentTypeAllowed(endpoint, mediaType string) bool {
	allowed, ok := v.cfg.AllowedContentTypes[endpoint]
	if !ok {
		allowed = v.cfg.AllowedContentTypes["*"]
	}
	for _, t := range allowed {
		if mediaType == t {
			return true
		}
	}
	return false
}

// checkJSONShape bounds the nesting depth and total element count of a
// JSON body without materializing it.
func (v *RequestValidator) checkJSONShape(body []byte) model.ValidationResult {
	dec := json.NewDecoder(bytes.NewReader(body))
	depth := 0
	elements := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return failed(ReasonMalformedBody, "body")
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				depth++
				if depth > v.cfg.MaxJSONDepth {
					return failed(ReasonNestingTooDeep, "body")
				}
			case '}', ']':
				depth--
			}
		default:
			elements++
			if elements > v.cfg.MaxJSONElements {
				return failed(ReasonTooManyElements, "body")
			}
		}
	}

	return passed()
}

// normalizeContentType strips parameters (e.g. "; charset=utf-8") and
// lowercases the media type.
func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mediaType
}

func isJSONType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func passed() model.ValidationResult {
	return model.ValidationResult{Passed: true}
}

func failed(reason, field string) model.ValidationResult {
	return model.ValidationResult{ReasonCode: reason, OffendingField: field}
}
