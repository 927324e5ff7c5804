package chatgpt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

// ParseSharePage extracts the shared conversation from a share page's HTML.
func ParseSharePage(html []byte) (*SharedConversation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}

	scriptContent := doc.Find("#__NEXT_DATA__").Text()
	if scriptContent == "" {
		return nil, errors.New("page has no __NEXT_DATA__ script tag, not a ChatGPT share page")
	}

	var data NextData
	if err := json.Unmarshal([]byte(scriptContent), &data); err != nil {
		return nil, errors.Wrap(err, "failed to decode __NEXT_DATA__ JSON")
	}

	shared := data.Props.PageProps.ServerResponse.SharedConversation
	if len(shared.Nodes()) == 0 {
		return nil, errors.New("share page carries no conversation nodes")
	}
	return &shared, nil
}

// Fetch downloads a share URL and parses it.
func Fetch(ctx context.Context, url string) (*SharedConversation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching %s returned status %d", url, resp.StatusCode)
	}

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseSharePage(html)
}

// Load reads a share page from a URL or a local HTML file, dispatching on
// the source's prefix.
func Load(ctx context.Context, source string) (*SharedConversation, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return Fetch(ctx, source)
	}

	html, err := os.ReadFile(source)
	if err != nil {
		return nil, err
	}
	return ParseSharePage(html)
}
