package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

var errWebUnavailable = errors.New("web tools are not configured (set web.api_key and web.search_engine_id)")

// webSet is the out-of-context web search and page loading set.
func webSet() []*Definition {
	return []*Definition{
		{
			Name:        "google_search",
			Description: "Retrieves possible website urls from search queries from Google's Custom Search JSON API (don't query this too many times - just query this as little as required to get factually correct information). You need to use the 'load_webpage_from_url' function to load specific webpages from the given search results after using this function.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"query": stringParam("Search query."),
				"page":  intParam(pageDesc),
			}, "query"),
			Handler: googleSearch,
		},
		{
			Name:        "load_webpage_from_url",
			Description: "Retrieves the content of a webpage at a specified url. You should first retrieve possible urls with the 'google_search' function.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"url": stringParam("Url to retrieve the webpage content of."),
			}, "url"),
			Handler: loadWebpageFromURL,
		},
	}
}

func googleSearch(ctx context.Context, env Env, args Args) (string, error) {
	if env.Web() == nil {
		return "", errWebUnavailable
	}
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	results, total, err := env.Web().Search(ctx, args.String("query"), RetrievalPageSize, page*RetrievalPageSize)
	if err != nil {
		return "", err
	}
	formatted := make([]string, 0, len(results))
	for _, res := range results {
		formatted = append(formatted, fmt.Sprintf("url: '%s', title: '%s', snippet: '%s'", res.URL, res.Title, res.Snippet))
	}
	return formatResults(formatted, total, page), nil
}

func loadWebpageFromURL(ctx context.Context, env Env, args Args) (string, error) {
	if env.Web() == nil {
		return "", errWebUnavailable
	}
	return env.Web().LoadPage(ctx, args.String("url"))
}
