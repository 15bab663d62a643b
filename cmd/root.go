/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blacktop/multipost/internal/logutil"
	"github.com/blacktop/multipost/internal/poster"
	"github.com/blacktop/multipost/internal/website"
)

var (
	configPath  string
	verboseFlag bool

	messageFlag string
	titleFlag   string
	filePaths   []string
	fileAlt     string
	tagsFlag    []string
	ratingFlag  string
	targetsFlag []string
	dryRun      bool
)

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multipost [message]",
		Short: "Post the same content to many websites",
		Long: "multipost publishes one message or set of files to every configured account " +
			"(Bluesky, Discord, Mastodon, X). Each submission is validated per website before anything is sent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logutil.SetVerbose(verboseFlag)
		},
		RunE: runPost,
		Example: `  multipost --message "hello world" --file ./shot.png
  multipost "Ship it!" --target bluesky --target work-mastodon
  echo "Release shipped" | multipost --target all`,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/multipost/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "V", false, "Enable debug logging")

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringVarP(&titleFlag, "title", "t", "", "Submission title")
	cmd.Flags().StringSliceVarP(&filePaths, "file", "f", nil, "Files to attach (repeatable)")
	cmd.Flags().StringVar(&fileAlt, "alt-text", "", "Alternative text applied to every attached file")
	cmd.Flags().StringSliceVar(&tagsFlag, "tag", nil, "Tags (repeatable)")
	cmd.Flags().StringVar(&ratingFlag, "rating", string(website.RatingGeneral), "Content rating (general, mature, adult, extreme)")
	cmd.Flags().StringSliceVar(&targetsFlag, "target", []string{"all"}, "Accounts or websites to post to, or all")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without posting")
	cmd.Flags().SortFlags = false

	cmd.AddCommand(
		newWebsitesCommand(),
		newAccountsCommand(),
		newAccountCommand(),
		newLoginCommand(),
		newAuthCommand(),
	)

	return cmd
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	message, err := resolveMessage(cmd, args)
	if err != nil {
		return err
	}
	rating, err := parseRating(ratingFlag)
	if err != nil {
		return err
	}

	sub := poster.Submission{
		Kind: poster.KindMessage,
		Common: website.CommonOptions{
			Title:       strings.TrimSpace(titleFlag),
			Description: message,
			Tags:        tagsFlag,
			Rating:      rating,
		},
	}
	for _, path := range filePaths {
		f, err := website.NewPostingFile(path)
		if err != nil {
			return err
		}
		f.AltText = strings.TrimSpace(fileAlt)
		sub.Files = append(sub.Files, f)
	}
	if len(sub.Files) > 0 {
		sub.Kind = poster.KindFile
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.resolveAccounts(targetsFlag)
	if err != nil {
		return err
	}

	// Interrupting stops further uploads; requests already sent complete.
	cancel := website.NewCancelToken()
	go func() {
		<-ctx.Done()
		cancel.Cancel("interrupted")
	}()

	return dispatch(cmd.Context(), a, accounts, sub, cancel, cmd.OutOrStdout(), dryRun)
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if (info.Mode() & os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			message = strings.TrimSpace(string(data))
		}
	}

	if message == "" && len(filePaths) == 0 {
		return "", errors.New("message is required")
	}

	return message, nil
}

func parseRating(raw string) (website.Rating, error) {
	r := website.Rating(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case "":
		return website.RatingGeneral, nil
	case website.RatingGeneral, website.RatingMature, website.RatingAdult, website.RatingExtreme:
		return r, nil
	}
	return "", fmt.Errorf("unsupported rating %q", raw)
}
