package caseindex

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/hecongqing/shukongdashi/pkg/fault"
)

// embeddingModelDimensions maps supported embedding models to their
// vector sizes.
var embeddingModelDimensions = map[openai.EmbeddingModel]uint64{
	openai.AdaEmbeddingV2:  1536,
	openai.SmallEmbedding3: 512,
	openai.LargeEmbedding3: 2048,
}

// maxEmbeddingTokens is the input budget of the embedding models;
// longer case texts are truncated by token count.
const maxEmbeddingTokens = 8192

const listSeparator = "\n"

// QdrantIndex is a dense-vector alternative to the in-process TF-IDF
// index: embeddings from an OpenAI-compatible endpoint, cosine search
// in a Qdrant collection. Selected via configuration; the TF-IDF index
// remains the default.
type QdrantIndex struct {
	client     *qdrant.Client
	embeddings *openai.Client
	collection string
	model      openai.EmbeddingModel
	encoding   *tiktoken.Tiktoken
	minWeight  float64
	maxWeight  float64
	logger     *logrus.Logger
}

// NewQdrantIndex connects the index to a collection, creating it with
// cosine distance when absent.
func NewQdrantIndex(ctx context.Context, client *qdrant.Client, embeddings *openai.Client, collection string, model openai.EmbeddingModel) (*QdrantIndex, error) {
	dimensions, ok := embeddingModelDimensions[model]
	if !ok {
		return nil, errors.Errorf("unsupported embedding model: %s", model)
	}

	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, errors.Wrap(err, "loading token encoding")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	info, err := client.GetCollectionInfo(ctx, collection)
	if err != nil || info == nil {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: &qdrant.VectorsConfig{
				Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{
						Size:     dimensions,
						Distance: qdrant.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating case collection")
		}
	}

	return &QdrantIndex{
		client:     client,
		embeddings: embeddings,
		collection: collection,
		model:      model,
		encoding:   encoding,
		minWeight:  0.1,
		maxWeight:  3.0,
		logger:     logger,
	}, nil
}

func (q *QdrantIndex) embed(ctx context.Context, text string) ([]float32, error) {
	tokens := q.encoding.Encode(text, nil, nil)
	if len(tokens) > maxEmbeddingTokens {
		text = q.encoding.Decode(tokens[:maxEmbeddingTokens])
	}

	resp, err := q.embeddings.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: q.model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "generating embedding")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}

// AddCase implements fault.CaseIndex.
func (q *QdrantIndex) AddCase(ctx context.Context, c fault.FaultCase) error {
	if c.FeedbackWeight == 0 {
		c.FeedbackWeight = 1.0
	}

	text := strings.Join(append(append([]string{c.Description}, c.Causes...), c.Solutions...), " ")
	vector, err := q.embed(ctx, text)
	if err != nil {
		return err
	}

	wait := true
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"description":     c.Description,
				"causes":          strings.Join(c.Causes, listSeparator),
				"solutions":       strings.Join(c.Solutions, listSeparator),
				"feedback_weight": c.FeedbackWeight,
				"created_at":      c.CreatedAt.Format(time.RFC3339),
			}),
		}},
	})
	if err != nil {
		return errors.Wrap(err, "upserting case point")
	}
	q.logger.WithField("case_id", c.ID).Info("Case added to Qdrant collection")
	return nil
}

// Query implements fault.CaseIndex.
func (q *QdrantIndex) Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]fault.ScoredCase, error) {
	vector, err := q.embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}

	threshold := float32(minSimilarity)
	// Over-fetch so feedback-weight tie-breaks survive the cut.
	limit := uint64(topK * 2)
	if limit == 0 {
		limit = 10
	}

	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}

	matches := make([]fault.ScoredCase, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, fault.ScoredCase{
			Case:       payloadToCase(hit.Id, hit.Payload),
			Similarity: float64(hit.Score),
		})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Similarity != matches[b].Similarity {
			return matches[a].Similarity > matches[b].Similarity
		}
		return matches[a].Case.FeedbackWeight > matches[b].Case.FeedbackWeight
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// UpdateFeedback implements fault.CaseIndex via a partial payload
// update.
func (q *QdrantIndex) UpdateFeedback(ctx context.Context, caseID string, delta float64) error {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(caseID)},
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return errors.Wrap(fault.ErrStoreUnavailable, err.Error())
	}
	if len(points) == 0 {
		return errors.Errorf("case not found: %s", caseID)
	}

	weight := points[0].Payload["feedback_weight"].GetDoubleValue() + delta
	if weight < q.minWeight {
		weight = q.minWeight
	}
	if weight > q.maxWeight {
		weight = q.maxWeight
	}

	wait := true
	_, err = q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Payload:        qdrant.NewValueMap(map[string]any{"feedback_weight": weight}),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(caseID)),
	})
	return errors.Wrap(err, "updating feedback weight")
}

// Count implements fault.CaseIndex.
func (q *QdrantIndex) Count() int {
	info, err := q.client.GetCollectionInfo(context.Background(), q.collection)
	if err != nil || info == nil || info.PointsCount == nil {
		return 0
	}
	return int(*info.PointsCount)
}

func payloadToCase(id *qdrant.PointId, payload map[string]*qdrant.Value) fault.FaultCase {
	c := fault.FaultCase{
		ID:             id.GetUuid(),
		Description:    payload["description"].GetStringValue(),
		FeedbackWeight: payload["feedback_weight"].GetDoubleValue(),
	}
	if c.FeedbackWeight == 0 {
		c.FeedbackWeight = 1.0
	}
	if raw := payload["causes"].GetStringValue(); raw != "" {
		c.Causes = strings.Split(raw, listSeparator)
	}
	if raw := payload["solutions"].GetStringValue(); raw != "" {
		c.Solutions = strings.Split(raw, listSeparator)
	}
	if ts, err := time.Parse(time.RFC3339, payload["created_at"].GetStringValue()); err == nil {
		c.CreatedAt = ts
	}
	return c
}
