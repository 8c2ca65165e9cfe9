package functions

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/llmosd/llmosd/pkg/protocol"
)

const (
	sectionNameDesc = "Section of the memory to be edited ('persona' to edit your persona or 'human' to edit persona of human who last sent you a message)."
	contentDesc     = "Content to write to the memory. All unicode (including emojis) are supported."
	queryDesc       = "String to search for."
	pageDesc        = "Allows you to page through results. Only use on a follow-up query. Defaults to 0 (first page)."
)

// baseSet is the always-in-context function set: messaging the user
// plus the conscious memory tools.
func baseSet() []*Definition {
	return []*Definition{
		{
			Name:        "send_message",
			Description: "Sends a message to the human user. If you need to use other functions to respond to the user's query, use them before using this function.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"message": stringParam("Message contents. All unicode (including emojis) are supported."),
			}, "message"),
			Handler: sendMessage,
		},
		{
			Name:        "core_memory_append",
			Description: "Append to the contents of core memory.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"section_name": stringParam(sectionNameDesc),
				"content":      stringParam(contentDesc),
			}, "section_name", "content"),
			Handler: coreMemoryAppend,
		},
		{
			Name:        "core_memory_replace",
			Description: "Replace the contents of core memory. To delete memories, use an empty string for new_content.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"section_name": stringParam(sectionNameDesc),
				"old_content":  stringParam("String to replace. Must be an exact match."),
				"new_content":  stringParam(contentDesc),
			}, "section_name", "old_content", "new_content"),
			Handler: coreMemoryReplace,
		},
		{
			Name:        "archival_memory_insert",
			Description: "Add to archival memory for your chat with the user you last conversed with. Make sure to phrase the memory contents such that it can be easily queried later.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"content": stringParam(contentDesc),
			}, "content"),
			Handler: archivalMemoryInsert,
		},
		{
			Name:        "archival_memory_search",
			Description: "Search archival memory for your chat with the user you last conversed with using semantic (embedding-based) search.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"query": stringParam(queryDesc),
				"page":  intParam(pageDesc),
			}, "query"),
			Handler: archivalMemorySearch,
		},
		{
			Name:        "conversation_search",
			Description: "Search prior conversation history with the user you last conversed with using case-insensitive string matching.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"query": stringParam(queryDesc),
				"page":  intParam(pageDesc),
			}, "query"),
			Handler: conversationSearch,
		},
		{
			Name:        "conversation_search_date",
			Description: "Search prior conversation history with the user you last conversed with using a date range.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"start_date": stringParam("The start of the date range to search, in the format 'YYYY-MM-DD'."),
				"end_date":   stringParam("The end of the date range to search, in the format 'YYYY-MM-DD'."),
				"page":       intParam(pageDesc),
			}, "start_date", "end_date"),
			Handler: conversationSearchDate,
		},
	}
}

func sendMessage(ctx context.Context, env Env, args Args) (string, error) {
	env.Emit(protocol.AssistantMessage(args.String("message")))
	return "", nil
}

func coreMemoryAppend(ctx context.Context, env Env, args Args) (string, error) {
	_, err := env.WorkingContext().EditAppend(args.String("section_name"), args.String("content"))
	return "", err
}

func coreMemoryReplace(ctx context.Context, env Env, args Args) (string, error) {
	_, err := env.WorkingContext().EditReplace(args.String("section_name"), args.String("old_content"), args.String("new_content"))
	return "", err
}

func archivalMemoryInsert(ctx context.Context, env Env, args Args) (string, error) {
	_, err := env.Archival().Insert(ctx, env.ActiveHumanID(), args.String("content"))
	return "", err
}

func archivalMemorySearch(ctx context.Context, env Env, args Args) (string, error) {
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	results, total, err := env.Archival().Search(ctx, args.String("query"), env.ActiveHumanID(), RetrievalPageSize, page*RetrievalPageSize)
	if err != nil {
		return "", err
	}
	formatted := make([]string, 0, len(results))
	for _, res := range results {
		formatted = append(formatted, fmt.Sprintf("timestamp: '%s', memory: '%s'", res.Timestamp, res.Content))
	}
	return formatResults(formatted, total, page), nil
}

func conversationSearch(ctx context.Context, env Env, args Args) (string, error) {
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	results, total := env.Recall().TextSearch(args.String("query"), env.ActiveHumanID(), RetrievalPageSize, page*RetrievalPageSize)
	formatted := make([]string, 0, len(results))
	for _, rec := range results {
		formatted = append(formatted, fmt.Sprintf("timestamp: '%s', role: '%s' - %s", rec.Timestamp, rec.Message.Role, rec.Message.Content))
	}
	return formatResults(formatted, total, page), nil
}

func conversationSearchDate(ctx context.Context, env Env, args Args) (string, error) {
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	results, total, err := env.Recall().DateSearch(args.String("start_date"), args.String("end_date"), env.ActiveHumanID(), RetrievalPageSize, page*RetrievalPageSize)
	if err != nil {
		return "", err
	}
	formatted := make([]string, 0, len(results))
	for _, rec := range results {
		formatted = append(formatted, fmt.Sprintf("timestamp: '%s', role: '%s' message: %s", rec.Timestamp, rec.Message.Role, rec.Message.Content))
	}
	return formatResults(formatted, total, page), nil
}
