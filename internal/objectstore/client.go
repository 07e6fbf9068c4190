package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/allaspectsdev/avatarforge/internal/breaker"
)

// Client is the production Store implementation, talking directly to
// an S3-API-compatible endpoint (DigitalOcean Spaces).
type Client struct {
	endpoint string // e.g. https://nyc3.digitaloceanspaces.com
	bucket   string
	signer   *sigv4Signer
	http     *http.Client
	cb       *breaker.Breaker
}

// Config holds Client construction parameters, matching the
// DO_ENDPOINT/DO_SPACE_ID/DO_SPACE_KEY/DO_SPACE_NAME environment
// variables a deployment provides.
type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	HTTPClient      *http.Client
	CircuitBreaker  *breaker.Breaker
}

// New builds a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		bucket:   cfg.Bucket,
		signer:   newSigV4Signer(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Region),
		http:     httpClient,
		cb:       cfg.CircuitBreaker,
	}
}

func (c *Client) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, url.PathEscape(key))
}

func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if c.cb != nil && !c.cb.Allow() {
		return breaker.ErrOpen
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(body))

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	c.signer.sign(req, payloadHash, time.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.recordSuccess()
		return nil
	}
	c.recordFailure()
	return fmt.Errorf("objectstore PUT %s: status %d", key, resp.StatusCode)
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.cb != nil && !c.cb.Allow() {
		return nil, false, breaker.ErrOpen
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return nil, false, err
	}
	c.signer.sign(req, emptyPayload, time.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.recordSuccess()
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.recordFailure()
		return nil, false, fmt.Errorf("objectstore GET %s: status %d", key, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		c.recordFailure()
		return nil, false, err
	}
	c.recordSuccess()
	return body, true, nil
}

func (c *Client) Head(ctx context.Context, key string) (bool, error) {
	if c.cb != nil && !c.cb.Allow() {
		return false, breaker.ErrOpen
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.objectURL(key), nil)
	if err != nil {
		return false, err
	}
	c.signer.sign(req, emptyPayload, time.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.recordSuccess()
	return resp.StatusCode == http.StatusOK, nil
}

// SignedURL returns a presigned GET URL valid for ttl, using SigV4
// query-string signing (X-Amz-Signature et al.) instead of a header.
func (c *Client) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	expires := int(ttl.Seconds())
	now := time.Now().UTC()
	amzDate := now.Format(iso8601Layout)
	dateStamp := now.Format(dateLayout)
	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, c.signer.region, c.signer.service)

	base := c.objectURL(key)
	query := url.Values{}
	query.Set("X-Amz-Algorithm", awsAlgorithm)
	query.Set("X-Amz-Credential", c.signer.accessKeyID+"/"+credentialScope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", fmt.Sprintf("%d", expires))
	query.Set("X-Amz-SignedHeaders", "host")

	signURL := base + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signURL, nil)
	if err != nil {
		return "", err
	}
	req.Host = req.URL.Host

	canonicalHeaders := "host:" + req.Host + "\n"
	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		canonicalURI(req.URL.Path),
		req.URL.RawQuery,
		canonicalHeaders,
		"host",
		"UNSIGNED-PAYLOAD",
	}, "\n")

	stringToSign := strings.Join([]string{
		awsAlgorithm,
		amzDate,
		credentialScope,
		hashHex(canonicalRequest),
	}, "\n")

	signingKey := c.signer.deriveKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	return signURL + "&X-Amz-Signature=" + signature, nil
}

func (c *Client) recordSuccess() {
	if c.cb != nil {
		c.cb.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.cb != nil {
		c.cb.RecordFailure()
	}
}
