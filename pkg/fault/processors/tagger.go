package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// TaggedEntity is one entity returned by the external tagging service.
type TaggedEntity struct {
	Name       string
	Type       string
	Start      int
	End        int
	Confidence float64
}

// EntityTagger is the external entity tagging capability. It may be
// unavailable; callers must tolerate errors by falling back.
type EntityTagger interface {
	Tag(ctx context.Context, text string) ([]TaggedEntity, error)
	Available(ctx context.Context) bool
}

// HTTPTagger talks to an entity tagging service over HTTP. Request
// {"text": ...}, response {"entities": [{name, type, start, end,
// confidence}]}.
type HTTPTagger struct {
	serviceURL string
	client     *http.Client
	logger     *logrus.Logger
}

// NewHTTPTagger creates a tagger client with the given per-call
// timeout.
func NewHTTPTagger(serviceURL string, timeout time.Duration) *HTTPTagger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTagger{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Tag extracts typed entities from text via the remote service.
func (t *HTTPTagger) Tag(ctx context.Context, text string) ([]TaggedEntity, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, errors.Wrap(err, "encoding tagger request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serviceURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "building tagger request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling tagger service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("tagger service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading tagger response")
	}

	var entities []TaggedEntity
	gjson.GetBytes(body, "entities").ForEach(func(_, ent gjson.Result) bool {
		confidence := ent.Get("confidence").Float()
		if confidence == 0 {
			// Services without per-entity scores are trusted at the
			// tagger's nominal confidence.
			confidence = 0.9
		}
		entities = append(entities, TaggedEntity{
			Name:       ent.Get("name").String(),
			Type:       ent.Get("type").String(),
			Start:      int(ent.Get("start").Int()),
			End:        int(ent.Get("end").Int()),
			Confidence: confidence,
		})
		return true
	})

	t.logger.WithField("entity_count", len(entities)).Debug("Tagger service responded")
	return entities, nil
}

// Available probes the service with an empty request and a short
// deadline.
func (t *HTTPTagger) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := t.Tag(probeCtx, "ping")
	return err == nil
}
