package operations

import (
	"context"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/rendis/nodeflow/pkg/schema"
)

// TextOperations returns the string operations.
func TextOperations() []Operation {
	return []Operation{
		NewPure("text.concat", Spec{
			Description: "Join two strings with an optional separator",
			Params: []Param{
				{Name: "a", Type: TypeString},
				{Name: "b", Type: TypeString},
				{Name: "separator", Type: TypeString},
			},
			Returns: TypeString,
		}, textConcat),
		NewPure("text.upper", Spec{
			Description: "Upper-case a string",
			Params:      []Param{{Name: "text", Type: TypeString}},
			Returns:     TypeString,
		}, func(_ context.Context, in map[string]any) (any, error) {
			return strings.ToUpper(stringParam(in, "text", "")), nil
		}),
		NewPure("text.split_name", Spec{
			Description: "Split a full name into first and last name",
			Params:      []Param{{Name: "name", Type: TypeString}},
			Returns:     TypeDict,
			Outputs:     []string{"first", "last"},
		}, splitName),
		NewPure("text.html_to_markdown", Spec{
			Description: "Convert an HTML fragment to Markdown",
			Params:      []Param{{Name: "html", Type: TypeString}},
			Returns:     TypeString,
		}, htmlToMarkdown),
		NewStreaming("text.stream_words", Spec{
			Description: "Emit a text word by word, returning the full text",
			Params: []Param{
				{Name: "text", Type: TypeString},
				{Name: "delay_ms", Type: TypeInt},
			},
			Returns: TypeString,
		}, func() StreamTask { return StreamTaskFunc(streamWords) }),
	}
}

func textConcat(_ context.Context, in map[string]any) (any, error) {
	return stringParam(in, "a", "") + stringParam(in, "separator", "") + stringParam(in, "b", ""), nil
}

// splitName puts the first whitespace-separated word in "first" and the
// remainder in "last".
func splitName(_ context.Context, in map[string]any) (any, error) {
	fields := strings.Fields(stringParam(in, "name", ""))
	out := map[string]any{"first": "", "last": ""}
	if len(fields) > 0 {
		out["first"] = fields[0]
	}
	if len(fields) > 1 {
		out["last"] = strings.Join(fields[1:], " ")
	}
	return out, nil
}

func htmlToMarkdown(_ context.Context, in map[string]any) (any, error) {
	md, err := htmltomarkdown.ConvertString(stringParam(in, "html", ""))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "text.html_to_markdown: conversion failed").WithCause(err)
	}
	return strings.TrimSpace(md), nil
}

func streamWords(ctx context.Context, in map[string]any, emit ChunkFunc) (any, error) {
	text := stringParam(in, "text", "")
	delay := time.Duration(intParam(in, "delay_ms", 0)) * time.Millisecond

	words := strings.Fields(text)
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		emit(w)
		if delay > 0 && i < len(words)-1 {
			select {
			case <-ctx.Done():
				return nil, schema.NewError(schema.ErrCodeCancelled, "text.stream_words: cancelled").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return strings.Join(words, " "), nil
}
