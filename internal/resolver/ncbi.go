package resolver

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xsx123123/EBIDownload/internal/storage"
	"github.com/xsx123123/EBIDownload/internal/transfer"
)

const defaultEutilsURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"

// NCBIResolver resolves SRA accessions through the NCBI eutils efetch API.
// The efetch response lists mirror locations per file; only the AWS
// worldwide (free egress) mirror is usable without credentials.
type NCBIResolver struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  transfer.RetryPolicy
	logger  *zap.Logger
}

// NewNCBIResolver creates a resolver. apiKey is optional and only raises
// the NCBI rate limit.
func NewNCBIResolver(apiKey string, logger *zap.Logger) *NCBIResolver {
	return &NCBIResolver{
		baseURL: defaultEutilsURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		policy: transfer.RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  10 * time.Second,
			Retryable: func(err error) bool {
				return !errors.Is(err, ErrNotFound) && storage.IsTransient(err)
			},
		},
		logger: logger,
	}
}

// Resolve fetches and parses the efetch record for runID. Transient API
// failures are retried; a record without an AWS worldwide location
// resolves to ErrNotFound.
func (r *NCBIResolver) Resolve(ctx context.Context, runID string) (*Descriptor, error) {
	r.logger.Info("Resolving accession", zap.String("run_id", runID))

	var desc *Descriptor
	err := r.policy.Do(ctx, func() error {
		var err error
		desc, err = r.resolveOnce(ctx, runID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Accession resolved",
		zap.String("run_id", runID),
		zap.String("bucket", desc.Bucket),
		zap.String("key", desc.Key),
		zap.Int64("size", desc.Size),
		zap.String("md5", desc.MD5),
	)
	return desc, nil
}

func (r *NCBIResolver) resolveOnce(ctx context.Context, runID string) (*Descriptor, error) {
	params := url.Values{
		"db":      {"sra"},
		"id":      {runID},
		"rettype": {"full"},
		"retmode": {"xml"},
	}
	if r.apiKey != "" {
		params.Set("api_key", r.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("efetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("efetch returned status %d %s", resp.StatusCode, resp.Status)
	}

	desc, err := parseEfetchXML(resp.Body, runID)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, runID)
	}
	return desc, nil
}

// parseEfetchXML walks the efetch record looking for an
// <Alternatives org="AWS" free_egress="worldwide" url=...> location. MD5
// and size come from the enclosing <SRAFile>; a missing SRAFile size
// falls back to the <RUN size=...> attribute.
func parseEfetchXML(body io.Reader, runID string) (*Descriptor, error) {
	decoder := xml.NewDecoder(body)

	var fileMD5 string
	var fileSize, runSize int64

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("malformed efetch XML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "RUN":
			runSize = attrInt64(start, "size")
		case "SRAFile":
			fileMD5 = attrValue(start, "md5")
			fileSize = attrInt64(start, "size")
		case "Alternatives":
			if !strings.EqualFold(attrValue(start, "org"), "AWS") {
				continue
			}
			if !strings.EqualFold(attrValue(start, "free_egress"), "worldwide") {
				continue
			}
			rawURL := attrValue(start, "url")
			if rawURL == "" {
				continue
			}

			bucket, key, httpsURL, err := resolveLocation(rawURL)
			if err != nil {
				continue
			}

			size := fileSize
			if size == 0 {
				size = runSize
			}
			return &Descriptor{
				RunID:  runID,
				Bucket: bucket,
				Key:    key,
				URL:    httpsURL,
				Size:   size,
				MD5:    fileMD5,
			}, nil
		}
	}
}

// resolveLocation normalizes a mirror URL, which efetch reports either as
// https://<bucket>.s3.amazonaws.com/<key> or as s3://<bucket>/<key>, into
// bucket, key, and the https form.
func resolveLocation(raw string) (bucket, key, httpsURL string, err error) {
	if rest, found := strings.CutPrefix(raw, "https://"); found {
		b, k, ok := strings.Cut(rest, ".s3.amazonaws.com/")
		if !ok {
			return "", "", "", fmt.Errorf("unsupported location URL: %s", raw)
		}
		return b, k, raw, nil
	}

	if strings.HasPrefix(raw, "s3://") {
		b, k, err := storage.ParseS3URI(raw)
		if err != nil {
			return "", "", "", err
		}
		return b, k, fmt.Sprintf("https://%s.s3.amazonaws.com/%s", b, k), nil
	}

	return "", "", "", fmt.Errorf("unsupported location URL: %s", raw)
}

func attrValue(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

func attrInt64(el xml.StartElement, name string) int64 {
	v, err := strconv.ParseInt(attrValue(el, name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
