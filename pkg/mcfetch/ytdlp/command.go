// Package ytdlp builds yt-dlp command lines for the external download strategy.
package ytdlp

import (
	"context"
	"errors"

	"github.com/lrstanley/go-ytdlp"
)

// CommandBuilder produces yt-dlp argv. The pipeline runs the command itself so it can apply its
// own timeout and cancellation.
type CommandBuilder struct {
	executable string
	format     string
}

func NewCommandBuilder(executable, format string) *CommandBuilder {
	return &CommandBuilder{executable: executable, format: format}
}

func (b *CommandBuilder) Build(ctx context.Context, url, outputTemplate string) ([]string, error) {
	if url == "" {
		return nil, errors.New("no url given")
	}

	dl := ytdlp.New().
		SetExecutable(b.executable).
		NoPlaylist().
		NoProgress().
		ForceOverwrites().
		Output(outputTemplate)

	if b.format != "" {
		dl = dl.Format(b.format)
	}

	cmd := dl.BuildCommand(ctx, url)
	if len(cmd.Args) == 0 {
		return nil, errors.New("yt-dlp produced an empty command line")
	}

	return cmd.Args, nil
}
