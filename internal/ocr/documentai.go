package ocr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DocumentAIConfig configures the Google Document AI backend.
type DocumentAIConfig struct {
	ProjectID       string
	Location        string
	ProcessorID     string
	CredentialsFile string
}

// DefaultDocumentAIConfig returns the regional defaults.
func DefaultDocumentAIConfig() DocumentAIConfig {
	return DocumentAIConfig{Location: "us"}
}

func (c DocumentAIConfig) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

func (c DocumentAIConfig) endpoint() string {
	return fmt.Sprintf("%s-documentai.googleapis.com:443", c.Location)
}

// documentProcessor is the subset of the Document AI client used here.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error)
	Close() error
}

type documentAIClient struct {
	c *documentai.DocumentProcessorClient
}

func (d documentAIClient) ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error) {
	return d.c.ProcessDocument(ctx, req)
}

func (d documentAIClient) Close() error { return d.c.Close() }

// DocumentAIEngine recognizes text with a Document AI OCR processor.
type DocumentAIEngine struct {
	cfg       DocumentAIConfig
	processor documentProcessor
	closeOnce sync.Once
}

// NewDocumentAIEngine dials the regional Document AI endpoint.
func NewDocumentAIEngine(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIEngine, error) {
	if cfg.ProjectID == "" || cfg.Location == "" || cfg.ProcessorID == "" {
		return nil, errors.New("documentai requires project_id, location and processor_id")
	}
	opts := []option.ClientOption{option.WithEndpoint(cfg.endpoint())}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, unavailable(BackendDocumentAI, err)
	}
	return &DocumentAIEngine{cfg: cfg, processor: documentAIClient{c: client}}, nil
}

// Recognize implements Engine.
func (e *DocumentAIEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	req := &documentaipb.ProcessRequest{
		Name: e.cfg.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  image,
				MimeType: "image/png",
			},
		},
		SkipHumanReview: true,
	}
	resp, err := e.processor.ProcessDocument(ctx, req)
	if err != nil {
		return "", classifyRPCError(ctx, err)
	}
	return resp.GetDocument().GetText(), nil
}

// Status reports the processor as online when a client exists; Document AI
// has no cheap health probe.
func (e *DocumentAIEngine) Status(context.Context) Status {
	return Status{
		Backend:     BackendDocumentAI,
		Online:      e.processor != nil,
		ModelLoaded: e.processor != nil,
		Models:      []string{e.cfg.processorName()},
	}
}

// Close releases the gRPC connection.
func (e *DocumentAIEngine) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.processor.Close() })
	return err
}

func classifyRPCError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return unavailable(BackendDocumentAI, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return unavailable(BackendDocumentAI, err)
	default:
		return &EngineError{Backend: BackendDocumentAI, StatusCode: int(st.Code()), Body: st.Message()}
	}
}
