package identify

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// FetchPage fetches a single documentation page and returns it as a Unit.
// HTML is reduced to its main content region and converted to markdown;
// any other content type is used as-is.
func (i *Identifier) FetchPage(ctx context.Context, url string) (Unit, error) {
	body, contentType, err := i.get(ctx, url)
	if err != nil {
		return Unit{}, err
	}

	if !strings.Contains(strings.ToLower(contentType), "html") {
		return Unit{URL: url, Content: strings.TrimSpace(string(body))}, nil
	}

	title, markdown, err := htmlToMarkdown(body)
	if err != nil {
		return Unit{}, fmt.Errorf("convert %s: %w", url, err)
	}
	return Unit{URL: url, Title: title, Content: markdown}, nil
}

func htmlToMarkdown(body []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := ""
	if n := findElement(doc, "title"); n != nil && n.FirstChild != nil {
		title = strings.TrimSpace(n.FirstChild.Data)
	}

	region := doc
	for _, tag := range []string{"main", "article", "body"} {
		if n := findElement(doc, tag); n != nil {
			region = n
			break
		}
	}
	removeElements(region, "script", "style", "nav", "noscript")

	var buf bytes.Buffer
	if err := html.Render(&buf, region); err != nil {
		return "", "", fmt.Errorf("render html: %w", err)
	}

	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	markdown, err := conv.ConvertString(buf.String())
	if err != nil {
		return "", "", err
	}
	markdown = excessiveLinesRe.ReplaceAllString(markdown, "\n\n")
	return title, strings.TrimSpace(markdown), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func removeElements(n *html.Node, tags ...string) {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode && drop[c.Data] {
				node.RemoveChild(c)
			} else {
				walk(c)
			}
			c = next
		}
	}
	walk(n)
}
