package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// newsItem is one entry scraped from the university news portal.
type newsItem struct {
	Title  string
	Link   string
	Detail string
	Time   string
	Source string
}

func newCampusNewsTool(ep Endpoints) tools.Tool {
	return tools.Tool{
		Name:         "sjtu_news",
		Description:  "获取交大新闻网的新闻。",
		RequiresAuth: false,
		Handler: func(ctx context.Context, tc *tools.Context, _ json.RawMessage) (any, error) {
			doc, base, err := fetchDocument(ctx, tc.HTTPClient(), ep.NewsURL)
			if err != nil {
				return nil, err
			}

			var items []newsItem
			doc.Find("div.list-card-h li.item").Each(func(_ int, s *goquery.Selection) {
				card := s.Find("a.card").First()
				if card.Length() == 0 {
					return
				}
				item := newsItem{
					Title:  strings.TrimSpace(card.Find("p.dot").First().Text()),
					Detail: strings.TrimSpace(card.Find("div.des.dot").First().Text()),
					Time:   strings.TrimSpace(card.Find("div.time span").First().Text()),
					Source: strings.TrimSpace(card.Find("div.time div.source p").First().Text()),
				}
				if href, ok := card.Attr("href"); ok {
					item.Link = resolveLink(base, href)
				}
				items = append(items, item)
			})

			var lines []string
			for _, item := range items {
				lines = append(lines, fmt.Sprintf("- [%s](%s)\n%s\n%s 来自于 %s",
					item.Title, item.Link, item.Detail, item.Time, item.Source))
			}
			return strings.Join(lines, "\n\n"), nil
		},
	}
}

// noticeItem is one entry scraped from the academic affairs office's notice
// board.
type noticeItem struct {
	Date    string
	Title   string
	Link    string
	Summary string
}

func newJWCNoticesTool(ep Endpoints) tools.Tool {
	return tools.Tool{
		Name:         "jwc_news",
		Description:  "获取教务处面向学生的通知公告。",
		RequiresAuth: false,
		Handler: func(ctx context.Context, tc *tools.Context, _ json.RawMessage) (any, error) {
			doc, base, err := fetchDocument(ctx, tc.HTTPClient(), ep.JWCNoticesURL)
			if err != nil {
				return nil, err
			}

			var items []noticeItem
			doc.Find("li.clearfix").Each(func(_ int, s *goquery.Selection) {
				day := strings.TrimSpace(s.Find("div.sj h2").First().Text())
				monthYear := strings.TrimSpace(s.Find("div.sj p").First().Text())
				year, month, found := strings.Cut(monthYear, ".")
				if !found || day == "" {
					return
				}

				wz := s.Find("div.wz").First()
				item := noticeItem{
					Date:    fmt.Sprintf("%s年%s月%s日", year, strings.TrimLeft(month, "0"), strings.TrimLeft(day, "0")),
					Title:   strings.TrimSpace(wz.Find("h2").First().Text()),
					Summary: strings.TrimSpace(wz.Find("p").First().Text()),
				}
				if href, ok := wz.Find("a").First().Attr("href"); ok {
					// Relative notice links climb out of the listing page.
					if strings.HasPrefix(href, "..") {
						item.Link = scheme(base) + "://" + base.Host + href[2:]
					} else {
						item.Link = resolveLink(base, href)
					}
				}
				if item.Title != "" {
					items = append(items, item)
				}
			})

			var lines []string
			for _, item := range items {
				lines = append(lines, fmt.Sprintf("- [%s](%s)\n%s\n%s",
					item.Title, item.Link, item.Summary, item.Date))
			}
			return strings.Join(lines, "\n\n"), nil
		},
	}
}

// fetchDocument GETs a page and parses it for scraping.
func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("获取信息失败，请检查网络连接: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("获取信息失败，请检查网络连接 (status %d)", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, resp.Request.URL, nil
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func scheme(u *url.URL) string {
	if u.Scheme == "" {
		return "https"
	}
	return u.Scheme
}
