package clipper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nutriflow/internal/recipe"
	"nutriflow/internal/shared"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// RecipeExtractor turns page text into a recipe.
type RecipeExtractor interface {
	Extract(ctx context.Context, sourceURL, content string) (recipe.ExtractorResult, error)
}

// RecipeSaver persists imported recipes.
type RecipeSaver interface {
	Save(ctx context.Context, r recipe.Recipe) error
}

// Clipper handles fetching and extracting recipes from URLs.
type Clipper struct {
	httpClient *http.Client
	extractor  RecipeExtractor
	saver      RecipeSaver
	log        *zap.Logger
}

// NewClipper creates a new Clipper instance.
func NewClipper(extractor RecipeExtractor, saver RecipeSaver, log *zap.Logger) *Clipper {
	return &Clipper{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		extractor:  extractor,
		saver:      saver,
		log:        log,
	}
}

// ClipURL fetches the URL, extracts the recipe using AI, and adds it to
// the catalog. The meta is returned whenever the model was called.
func (c *Clipper) ClipURL(ctx context.Context, url string) (*recipe.Recipe, shared.AgentMeta, error) {
	content, err := c.fetchAndCleanHTML(ctx, url)
	if err != nil {
		return nil, shared.AgentMeta{}, fmt.Errorf("failed to fetch content: %w", err)
	}

	res, err := c.extractor.Extract(ctx, url, content)
	if err != nil {
		return nil, res.Meta, fmt.Errorf("ai extraction failed: %w", err)
	}

	rec := res.Recipe
	if err := c.saver.Save(ctx, rec); err != nil {
		return nil, res.Meta, fmt.Errorf("failed to save recipe: %w", err)
	}

	c.log.Info("recipe imported",
		zap.String("url", url),
		zap.String("recipe_id", rec.ID),
		zap.String("title", rec.Title),
		zap.Int("ingredients", len(rec.Ingredients)),
	)
	return &rec, res.Meta, nil
}

func (c *Clipper) fetchAndCleanHTML(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Remove noise to save LLM tokens
	doc.Find("script, style, nav, footer, iframe, noscript, svg, form, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return collapseWhitespace(doc.Find("body").Text()), nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
