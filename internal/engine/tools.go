package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clinicgo/internal/config"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const webSearchHTTPTimeout = 10 * time.Second

func initToolsChain(cfg config.SearchConfig) []tool.BaseTool {
	var tools []tool.BaseTool
	if ws := initWebSearch(cfg); ws != nil {
		tools = append(tools, ws)
	}
	return tools
}

func initWebSearch(cfg config.SearchConfig) tool.InvokableTool {
	tavily := newTavilyClient(cfg.TavilyAPIKey, "")
	googleTool := initGoogleSearch(cfg)
	duckTool := initDDGSearch()
	if tavily == nil && googleTool == nil && duckTool == nil {
		log.Printf("web search tool disabled: no search providers available")
		return nil
	}

	ws := &webSearchTool{
		tavily:     tavily,
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: webSearchHTTPTimeout},
	}

	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for medical guidelines and references; " +
			"automatically fallbacks to another provider if needed; " +
			"can fetch a URL directly if needed.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}

	return utils.NewTool(info, ws.run)
}

type webSearchTool struct {
	tavily     *tavilyClient
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		if content, err := w.fetchURL(ctx, query); err == nil {
			return content, nil
		} else {
			log.Printf("web url loader failed: %v", err)
		}
	}

	if w.tavily != nil {
		if result, err := w.tavily.Search(ctx, query); err == nil {
			return result, nil
		} else {
			log.Printf("tavily search failed: %v", err)
		}
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		if result, err := w.google.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			log.Printf("google search failed: %v", err)
		}
	}

	if w.duck != nil {
		if result, err := w.duck.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			log.Printf("duckduckgo search failed: %v", err)
		}
	}

	return "", errors.New("no search provider succeeded")
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	if w.httpClient == nil {
		w.httpClient = &http.Client{Timeout: webSearchHTTPTimeout}
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ClinicGo-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}

	const maxBodySize = 512 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func initDDGSearch() tool.InvokableTool {
	duckConfig := &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	}
	duckTool, err := duckduckgo.NewTextSearchTool(context.Background(), duckConfig)
	if err != nil {
		log.Printf("duckduckgo search tool disabled: %v", err)
		return nil
	}
	return duckTool
}

func initGoogleSearch(cfg config.SearchConfig) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleSearchEngineID == "" {
		log.Printf("google search tool disabled: missing google_api_key or google_search_engine_id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(context.Background(), &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		log.Printf("google search tool disabled: %v", err)
		return nil
	}
	return googleTool
}
