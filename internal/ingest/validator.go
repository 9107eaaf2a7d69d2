package ingest

import (
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
)

const (
	maxURLLength   = 2048
	maxTitleLength = 1024
	maxTextLength  = 1 << 20
	maxTokens      = 100000
)

// ValidateDocumentRequest checks the request's url, title, text and token
// count and returns a ValidationError naming every failing field.
func ValidateDocumentRequest(req *DocumentRequest) error {
	errs := make(map[string]string)

	rawURL := strings.TrimSpace(req.URL)
	switch {
	case rawURL == "":
		errs["url"] = "url is required"
	case len(rawURL) > maxURLLength:
		errs["url"] = fmt.Sprintf("url must be at most %d characters", maxURLLength)
	default:
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs["url"] = "url must be an absolute http or https url"
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		errs["title"] = "title is required"
	} else if len(title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}

	if strings.TrimSpace(req.FullText) == "" {
		errs["full_text"] = "full_text is required"
	} else if len(req.FullText) > maxTextLength {
		errs["full_text"] = fmt.Sprintf("full_text must be at most %d bytes", maxTextLength)
	}

	if len(req.Tokens) > maxTokens {
		errs["tokens"] = fmt.Sprintf("at most %d tokens per document", maxTokens)
	}
	return apperrors.Validation("index request", errs)
}
