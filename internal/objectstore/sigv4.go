package objectstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// sigv4Signer signs requests against an S3-API-compatible endpoint
// (DigitalOcean Spaces) using AWS Signature Version 4.
type sigv4Signer struct {
	accessKeyID     string
	secretAccessKey string
	region          string
	service         string
}

const (
	awsAlgorithm  = "AWS4-HMAC-SHA256"
	emptyPayload  = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	iso8601Layout = "20060102T150405Z"
	dateLayout    = "20060102"
)

func newSigV4Signer(accessKeyID, secretAccessKey, region string) *sigv4Signer {
	if region == "" {
		region = "us-east-1"
	}
	return &sigv4Signer{accessKeyID: accessKeyID, secretAccessKey: secretAccessKey, region: region, service: "s3"}
}

// sign adds the Authorization, x-amz-date, and x-amz-content-sha256
// headers to req so it is accepted by an S3-compatible endpoint.
func (s *sigv4Signer) sign(req *http.Request, payloadHash string, now time.Time) {
	amzDate := now.UTC().Format(iso8601Layout)
	dateStamp := now.UTC().Format(dateLayout)

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	if req.Host == "" {
		req.Host = req.URL.Host
	}

	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL.Path),
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, s.region, s.service)
	stringToSign := strings.Join([]string{
		awsAlgorithm,
		amzDate,
		credentialScope,
		hashHex(canonicalRequest),
	}, "\n")

	signingKey := s.deriveKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		awsAlgorithm, s.accessKeyID, credentialScope, signedHeaders, signature)
	req.Header.Set("Authorization", auth)
}

func (s *sigv4Signer) deriveKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.secretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.region)
	kService := hmacSHA256(kRegion, s.service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

func canonicalizeHeaders(req *http.Request) (canonical, signed string) {
	type kv struct{ k, v string }
	headers := map[string]string{
		"host": req.Host,
	}
	for k, v := range req.Header {
		lk := strings.ToLower(k)
		if lk == "x-amz-date" || lk == "x-amz-content-sha256" {
			headers[lk] = strings.Join(v, ",")
		}
	}

	var kvs []kv
	for k, v := range headers {
		kvs = append(kvs, kv{k, strings.TrimSpace(v)})
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].k < kvs[j].k })

	var cb strings.Builder
	var names []string
	for _, e := range kvs {
		cb.WriteString(e.k)
		cb.WriteByte(':')
		cb.WriteString(e.v)
		cb.WriteByte('\n')
		names = append(names, e.k)
	}
	return cb.String(), strings.Join(names, ";")
}
