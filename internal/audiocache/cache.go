package audiocache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/parlancelabs/parlance/internal/config"
)

// Source records how a clip's samples were obtained.
type Source int

const (
	// SourceDecoded means the artifact was fetched and decoded normally.
	SourceDecoded Source = iota
	// SourceDecodeFallback means the artifact is reachable but its bytes
	// would not decode; samples are a deterministic placeholder.
	SourceDecodeFallback
	// SourceUnreachable means the artifact could not be fetched on either
	// path; samples are a shorter, distinct placeholder.
	SourceUnreachable
)

// Clip is the decoded (or synthesized) waveform for one artifact reference,
// used for visualization. Playback goes through the raw reference and has an
// independent failure domain.
type Clip struct {
	Ref        string
	SampleRate int
	Samples    []float64
	Source     Source
}

// Degraded reports whether visualization fell back to a placeholder.
func (c Clip) Degraded() bool { return c.Source != SourceDecoded }

// Cache maps artifact references to decoded sample data. It is a pure
// derived cache: losing it only forces re-decoding. Entries live for the
// process lifetime; artifact references are immutable once minted, so there
// is no invalidation path.
type Cache struct {
	mu         sync.Mutex
	clips      map[string]Clip
	client     *http.Client
	directBase string
	proxyBase  string
	sampleRate int
	log        *slog.Logger
}

// New builds a cache resolving references against the configured direct and
// proxied retrieval paths.
func New(cfg config.ArtifactsConfig, sampleRate int, log *slog.Logger) *Cache {
	return &Cache{
		clips:      make(map[string]Clip),
		client:     &http.Client{Timeout: time.Duration(cfg.FetchTimeoutMS) * time.Millisecond},
		directBase: strings.TrimRight(cfg.DirectBaseURL, "/"),
		proxyBase:  strings.TrimRight(cfg.ProxyBaseURL, "/"),
		sampleRate: sampleRate,
		log:        log.With(slog.String("component", "audio-cache")),
	}
}

// Resolve returns decoded samples for ref, fetching and decoding on a miss.
// Retrieval and decode failures degrade to placeholder waveforms rather than
// erroring; the only hard failures are an unusable reference or a cancelled
// context. Every outcome, placeholder included, is cached under ref.
func (c *Cache) Resolve(ctx context.Context, ref string) (Clip, error) {
	if strings.TrimSpace(ref) == "" {
		return Clip{}, fmt.Errorf("empty artifact reference")
	}

	c.mu.Lock()
	if clip, ok := c.clips[ref]; ok {
		c.mu.Unlock()
		return clip, nil
	}
	c.mu.Unlock()

	clip, err := c.retrieve(ctx, ref)
	if err != nil {
		return Clip{}, err
	}

	c.mu.Lock()
	// A concurrent resolve may have won; keep the first entry so repeated
	// lookups stay bit-identical.
	if existing, ok := c.clips[ref]; ok {
		clip = existing
	} else {
		c.clips[ref] = clip
	}
	c.mu.Unlock()
	return clip, nil
}

// Refresh re-runs retrieval for ref and replaces the cached entry. It exists
// for the single bounded retry after generation; placeholder waveforms are
// deterministic, so a failed refresh reproduces the prior entry exactly.
func (c *Cache) Refresh(ctx context.Context, ref string) (Clip, error) {
	if strings.TrimSpace(ref) == "" {
		return Clip{}, fmt.Errorf("empty artifact reference")
	}
	clip, err := c.retrieve(ctx, ref)
	if err != nil {
		return Clip{}, err
	}
	c.mu.Lock()
	c.clips[ref] = clip
	c.mu.Unlock()
	return clip, nil
}

// Len reports the number of cached clips.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clips)
}

// retrieve runs the fixed fallback chain: direct fetch, proxied fetch,
// existence probe + decode placeholder, unreachable placeholder.
func (c *Cache) retrieve(ctx context.Context, ref string) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}

	data, fetched := c.fetch(ctx, c.directBase+"/"+url.PathEscape(ref))

	safeName, sanErr := SanitizeFilename(ref)
	proxyURL := ""
	if sanErr == nil {
		proxyURL = c.proxyBase + "/" + url.PathEscape(safeName)
	}

	if !fetched && proxyURL != "" {
		data, fetched = c.fetch(ctx, proxyURL)
	}

	if fetched {
		samples, rate, err := decodeWAV(data)
		if err == nil {
			return Clip{Ref: ref, SampleRate: rate, Samples: samples, Source: SourceDecoded}, nil
		}
		c.log.Warn("artifact fetched but undecodable, using placeholder",
			slog.String("ref", ref), slog.String("error", err.Error()))
		return Clip{
			Ref:        ref,
			SampleRate: c.sampleRate,
			Samples:    decodePlaceholder(c.sampleRate),
			Source:     SourceDecodeFallback,
		}, nil
	}

	// Nothing was fetched. A successful existence probe still means the
	// artifact is there (playback may work), so it gets the decode-fallback
	// placeholder rather than the unreachable one.
	if proxyURL != "" && c.probe(ctx, proxyURL) {
		c.log.Warn("artifact reachable but not retrievable, using placeholder", slog.String("ref", ref))
		return Clip{
			Ref:        ref,
			SampleRate: c.sampleRate,
			Samples:    decodePlaceholder(c.sampleRate),
			Source:     SourceDecodeFallback,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	c.log.Warn("artifact unreachable on both paths", slog.String("ref", ref))
	return Clip{
		Ref:        ref,
		SampleRate: c.sampleRate,
		Samples:    unreachablePlaceholder(c.sampleRate),
		Source:     SourceUnreachable,
	}, nil
}

func (c *Cache) fetch(ctx context.Context, rawURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, false
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (c *Cache) probe(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// decodeWAV converts artifact bytes into normalized mono samples.
func decodeWAV(data []byte) ([]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, fmt.Errorf("decode wav: no samples")
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (bitDepth - 1))
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / scale
	}
	rate := int(dec.SampleRate)
	if rate <= 0 {
		rate = buf.Format.SampleRate
	}
	return samples, rate, nil
}
