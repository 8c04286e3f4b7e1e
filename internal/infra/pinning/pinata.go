package pinning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// Pinata uploads files to IPFS through Pinata's pinning API.
type Pinata struct {
	endpoint   string
	jwt        string
	timeout    time.Duration
	httpClient *http.Client
}

func NewPinata(endpoint, jwt string, httpClient *http.Client) (*Pinata, error) {
	if strings.TrimSpace(jwt) == "" {
		return nil, errors.New("pinata: jwt required")
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Pinata{
		endpoint:   endpoint,
		jwt:        jwt,
		timeout:    60 * time.Second,
		httpClient: httpClient,
	}, nil
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin streams r as a multipart upload and returns the resulting CID.
func (p *Pinata) Pin(ctx context.Context, filename string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if filename == "" {
		filename = "reward"
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", fmt.Errorf("pinata: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("pinata: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("pinata: http %d: %s", resp.StatusCode, string(data))
	}
	var out pinResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("pinata: decode response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", errors.New("pinata: response missing IpfsHash")
	}
	return out.IpfsHash, nil
}
