package httpfetch

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/pemistahl/lingua-go"

	"github.com/user/rag-service/internal/entity"
	"github.com/user/rag-service/pkg/sanitize"
	"github.com/user/rag-service/pkg/utils"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 500
	maxContentLen     = 50000
	maxHeadings       = 10
	maxLinks          = 100
	maxImages         = 50
	// Below this many characters the selector-based content is replaced by readability's.
	minMainContent = 200
)

var (
	contentSelectors = []string{
		"main", "article", `[role="main"]`, ".content", "#content",
		".post-content", ".entry-content", ".page-content",
	}
	spaceRun = regexp.MustCompile(`\s+`)

	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func languageDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.French, lingua.German, lingua.Spanish,
				lingua.Portuguese, lingua.Italian, lingua.Dutch).
			Build()
	})
	return detector
}

// ExtractPage parses an HTML document fetched from pageURL. Only links on the
// seed's domain are kept.
func ExtractPage(pageURL, seedURL string, body []byte) (*entity.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	page := &entity.Page{
		URL:    pageURL,
		Domain: base.Hostname(),
		Path:   base.Path,
		Bytes:  int64(len(body)),
	}
	if page.Path == "" {
		page.Path = "/"
	}

	page.Title = firstNonEmpty(
		doc.Find("title").First().Text(),
		attr(doc, `meta[property="og:title"]`, "content"),
		doc.Find("h1").First().Text(),
	)
	page.Title = truncate(clean(page.Title), maxTitleLen)
	page.Description = truncate(clean(firstNonEmpty(
		attr(doc, `meta[name="description"]`, "content"),
		attr(doc, `meta[property="og:description"]`, "content"),
	)), maxDescriptionLen)

	// Extract Metadata
	page.Metadata = entity.PageMetadata{
		Author:      attr(doc, `meta[name="author"]`, "content"),
		PublishDate: attr(doc, `meta[property="article:published_time"]`, "content"),
		Language:    strings.ToLower(attr(doc, "html", "lang")),
	}
	if kw := attr(doc, `meta[name="keywords"]`, "content"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				page.Metadata.Keywords = append(page.Metadata.Keywords, k)
			}
		}
	}
	page.ContentType = DetectContentType(doc, page.Path)

	// Remove script and style elements
	doc.Find("script, style, noscript, iframe, svg").Remove()

	// Extract Headers
	doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := clean(s.Text()); text != "" {
			page.Headings = append(page.Headings, text)
		}
		return len(page.Headings) < maxHeadings
	})

	// Extract Images
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if abs, err := utils.ToAbsoluteURL(base, strings.TrimSpace(src)); err == nil && src != "" {
			alt, _ := s.Attr("alt")
			page.Images = append(page.Images, entity.ImageInfo{Src: abs, Alt: clean(alt)})
		}
		return len(page.Images) < maxImages
	})

	page.Links = extractLinks(doc, base, seedURL)
	page.Content = mainContent(doc)
	if len(page.Content) < minMainContent {
		if article, err := readability.FromReader(bytes.NewReader(body), base); err == nil {
			if text := clean(article.TextContent); len(text) > len(page.Content) {
				page.Content = truncate(text, maxContentLen)
			}
			if page.Metadata.Author == "" {
				page.Metadata.Author = clean(article.Byline)
			}
		}
	}
	if page.Metadata.Language == "" && page.Content != "" {
		if lang, ok := languageDetector().DetectLanguageOf(page.Content); ok {
			page.Metadata.Language = strings.ToLower(lang.IsoCode639_1().String())
		}
	}
	page.Hash = utils.HashString(page.Content)
	return page, nil
}

const blockSelector = "p, li, h1, h2, h3, h4, h5, h6, td, blockquote, pre"

// mainContent prefers semantic containers and falls back to the body without
// its navigation chrome.
func mainContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := blockText(s); text != "" {
				return truncate(text, maxContentLen)
			}
		}
	}
	body := doc.Find("body")
	body.Find("nav, header, footer, aside, form").Remove()
	return truncate(blockText(body), maxContentLen)
}

// blockText joins the text of innermost block elements with spaces, so
// adjacent paragraphs do not run together.
func blockText(s *goquery.Selection) string {
	var parts []string
	s.Find(blockSelector).Each(func(_ int, b *goquery.Selection) {
		if b.Find(blockSelector).Length() > 0 {
			return
		}
		if text := clean(b.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return clean(s.Text())
	}
	return strings.Join(parts, " ")
}

func extractLinks(doc *goquery.Document, base *url.URL, seedURL string) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs, err := utils.ResolveURL(base, href)
		if err != nil || !utils.IsSameDomain(abs, seedURL) {
			return true
		}
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
		return len(links) < maxLinks
	})
	return links
}

// DetectContentType classifies a page by its path, then by schema.org markup.
func DetectContentType(doc *goquery.Document, path string) entity.ContentType {
	switch {
	case strings.Contains(path, "/blog/") || strings.Contains(path, "/news/") || strings.Contains(path, "/article/"):
		return entity.ContentArticle
	case strings.Contains(path, "/product/") || strings.Contains(path, "/shop/"):
		return entity.ContentProduct
	case path == "/" || path == "" || path == "/index":
		return entity.ContentHomepage
	case strings.Contains(path, "/about"):
		return entity.ContentAbout
	case strings.Contains(path, "/contact"):
		return entity.ContentContact
	case strings.Contains(path, "/faq") || strings.Contains(path, "/help"):
		return entity.ContentSupport
	}
	if doc != nil {
		if doc.Find(`[itemtype*="Article"]`).Length() > 0 {
			return entity.ContentArticle
		}
		if doc.Find(`[itemtype*="Product"]`).Length() > 0 {
			return entity.ContentProduct
		}
	}
	return entity.ContentPage
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

func clean(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(sanitize.PlainText(s), " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
