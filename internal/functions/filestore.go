package functions

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

const (
	filePartsDesc   = "Relative path parts of the file with the root directory being the assigned folder."
	folderPartsDesc = "Relative path parts of the folder with the root directory being the assigned folder."
	oldTextDesc     = "String to replace. Must be an exact match."
	newTextDesc     = "Text to write to the file. All unicode (including emojis) are supported."
)

// filestoreSet is the out-of-context versioned file memory set.
func filestoreSet() []*Definition {
	return []*Definition{
		{
			Name:        "file_memory_make_file",
			Description: "Creates a new file in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"file_rel_path_parts": stringArrayParam("Relative path parts of the new file with the root directory being the assigned folder."),
			}, "file_rel_path_parts"),
			Handler: fileMakeFile,
		},
		{
			Name:        "file_memory_make_folder",
			Description: "Creates a new folder in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"folder_rel_path_parts": stringArrayParam("Relative path parts of the new folder with the root directory being the assigned folder."),
			}, "folder_rel_path_parts"),
			Handler: fileMakeFolder,
		},
		{
			Name:        "file_memory_remove_file",
			Description: "Removes a file in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"file_rel_path_parts": stringArrayParam(filePartsDesc),
			}, "file_rel_path_parts"),
			Handler: fileRemoveFile,
		},
		{
			Name:        "file_memory_remove_folder",
			Description: "Removes a folder in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"folder_rel_path_parts": stringArrayParam(folderPartsDesc),
			}, "folder_rel_path_parts"),
			Handler: fileRemoveFolder,
		},
		{
			Name:        "file_memory_append_to_file",
			Description: "Appends text to a file in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"file_rel_path_parts": stringArrayParam(filePartsDesc),
				"text":                stringParam("The string to be appended to the end of the file."),
			}, "file_rel_path_parts", "text"),
			Handler: fileAppendToFile,
		},
		{
			Name:        "file_memory_replace_first_in_file",
			Description: "Replace first occurence of text in a file in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"file_rel_path_parts": stringArrayParam(filePartsDesc),
				"old_text":            stringParam(oldTextDesc),
				"new_text":            stringParam(newTextDesc),
			}, "file_rel_path_parts", "old_text", "new_text"),
			Handler: fileReplaceFirstInFile,
		},
		{
			Name:        "file_memory_replace_all_in_file",
			Description: "Replace all occurences of text in a file in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"file_rel_path_parts": stringArrayParam(filePartsDesc),
				"old_text":            stringParam(oldTextDesc),
				"new_text":            stringParam(newTextDesc),
			}, "file_rel_path_parts", "old_text", "new_text"),
			Handler: fileReplaceAllInFile,
		},
		{
			Name:        "file_memory_browse_files",
			Description: "Browse through (file path parts) + (file summary) pairs in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"page": intParam(pageDesc),
			}),
			Handler: fileBrowseFiles,
		},
		{
			Name:        "file_memory_read_file",
			Description: "Read pages in a file in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"file_rel_path_parts": stringArrayParam(filePartsDesc),
				"page":                intParam(pageDesc),
			}, "file_rel_path_parts"),
			Handler: fileReadFile,
		},
		{
			Name:        "file_memory_revert_n_commits",
			Description: "Undos n edits (commits) in the folder assigned to your chat with the user you last conversed with by creating n new edits that reverse the last n edits.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"n": intParam("How many commits to revert. Defaults to 1."),
			}),
			Handler: fileRevertNCommits,
		},
		{
			Name:        "file_memory_reset_n_commits",
			Description: "Undos n edits (commits) in the folder assigned to your chat with the user you last conversed with by deleting the last n edits.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"n": intParam("How many commits to reset. Defaults to 1."),
			}),
			Handler: fileResetNCommits,
		},
		{
			Name:        "file_memory_get_diff",
			Description: "Gets Git diff between HEAD and HEAD~n in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"n": intParam("How many commits previously from HEAD the target commit is. Defaults to 1."),
			}),
			Handler: fileGetDiff,
		},
		{
			Name:        "file_memory_view_commit_history",
			Description: "Browse through the history of edits (commits) in the folder assigned to your chat with the user you last conversed with.",
			Parameters: objectParams(map[string]*jsonschema.Schema{
				"page": intParam(pageDesc),
			}),
			Handler: fileViewCommitHistory,
		},
	}
}

func fileMakeFile(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().MakeFile(ctx, env.ActiveHumanID(), args.StringSlice("file_rel_path_parts"))
}

func fileMakeFolder(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().MakeFolder(ctx, env.ActiveHumanID(), args.StringSlice("folder_rel_path_parts"))
}

func fileRemoveFile(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().RemoveFile(ctx, env.ActiveHumanID(), args.StringSlice("file_rel_path_parts"))
}

func fileRemoveFolder(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().RemoveFolder(ctx, env.ActiveHumanID(), args.StringSlice("folder_rel_path_parts"))
}

func fileAppendToFile(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().AppendToFile(ctx, env.ActiveHumanID(), args.StringSlice("file_rel_path_parts"), args.String("text"))
}

func fileReplaceFirstInFile(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().ReplaceFirstInFile(ctx, env.ActiveHumanID(), args.StringSlice("file_rel_path_parts"), args.String("old_text"), args.String("new_text"))
}

func fileReplaceAllInFile(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().ReplaceAllInFile(ctx, env.ActiveHumanID(), args.StringSlice("file_rel_path_parts"), args.String("old_text"), args.String("new_text"))
}

func fileBrowseFiles(ctx context.Context, env Env, args Args) (string, error) {
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	entries, total, err := env.Files().BrowseFiles(ctx, env.ActiveHumanID(), RetrievalPageSize, page*RetrievalPageSize)
	if err != nil {
		return "", err
	}
	formatted := make([]string, 0, len(entries))
	for _, e := range entries {
		formatted = append(formatted, fmt.Sprintf("file_path_parts: %s, file_summary: '%s'", marshalNoEscape(e.PathParts), e.Summary))
	}
	return formatResults(formatted, total, page), nil
}

func fileReadFile(ctx context.Context, env Env, args Args) (string, error) {
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	pages, total, err := env.Files().ReadFile(ctx, env.ActiveHumanID(), args.StringSlice("file_rel_path_parts"), RetrievalPageSize, page*RetrievalPageSize)
	if err != nil {
		return "", err
	}
	return formatResults(pages, total, page), nil
}

func fileRevertNCommits(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().RevertCommits(ctx, env.ActiveHumanID(), args.Int("n", 1))
}

func fileResetNCommits(ctx context.Context, env Env, args Args) (string, error) {
	return "", env.Files().ResetCommits(ctx, env.ActiveHumanID(), args.Int("n", 1))
}

func fileGetDiff(ctx context.Context, env Env, args Args) (string, error) {
	return env.Files().Diff(ctx, env.ActiveHumanID(), args.Int("n", 1))
}

func fileViewCommitHistory(ctx context.Context, env Env, args Args) (string, error) {
	page, err := pageArg(args)
	if err != nil {
		return "", err
	}
	lines, total, err := env.Files().CommitHistory(ctx, env.ActiveHumanID(), RetrievalPageSize, page*RetrievalPageSize)
	if err != nil {
		return "", err
	}
	return formatResults(lines, total, page), nil
}
