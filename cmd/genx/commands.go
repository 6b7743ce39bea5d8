package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/genx/backend/internal/client"
)

const (
	keyServer    = "server"
	keyToken     = "token"
	keyTypeDelay = "type-delay"
	keyMinLength = "min-length"
)

// errReported marks failures whose notice was already printed.
var errReported = errors.New("reported")

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GENX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "genx",
		Short:         "Generate text and images from prompts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String(keyServer, "http://localhost:8080", "GenX API base URL (GENX_SERVER)")
	flags.String(keyToken, "", "session token (GENX_TOKEN)")
	flags.Duration(keyTypeDelay, client.DefaultTypeDelay, "delay between revealed characters (GENX_TYPE_DELAY)")
	flags.Int(keyMinLength, client.DefaultMinPromptLength, "minimum prompt length")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newTextCommand(v),
		newImageCommand(v),
		newRecordsCommand(v),
	)
	return root
}

func newClient(v *viper.Viper) *client.Client {
	return client.New(v.GetString(keyServer), v.GetString(keyToken), nil)
}

func promptFromArgs(v *viper.Viper, args []string) (string, error) {
	prompt := strings.Join(args, " ")
	if err := client.ValidatePrompt(prompt, v.GetInt(keyMinLength)); err != nil {
		return "", err
	}
	return prompt, nil
}

// report prints the notice for err. Cancellation stays silent.
func report(w io.Writer, err error) error {
	notice := client.Classify(err)
	switch notice {
	case client.NoticeNone:
		return nil
	case client.NoticeValidation:
		var reqErr *client.RequestError
		if errors.As(err, &reqErr) {
			fmt.Fprintln(w, reqErr.Message)
		}
	default:
		fmt.Fprintln(w, notice.Message())
	}
	return errReported
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func newTextCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "text <prompt>",
		Short: "Stream generated text with a typewriter effect",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptFromArgs(v, args)
			if err != nil {
				return report(cmd.ErrOrStderr(), err)
			}

			ctx := cmd.Context()
			body, err := newClient(v).StreamText(ctx, prompt)
			if err != nil {
				return report(cmd.ErrOrStderr(), err)
			}

			renderer := &client.Renderer{
				Out:           cmd.OutOrStdout(),
				TypeDelay:     v.GetDuration(keyTypeDelay),
				BlinkInterval: client.DefaultBlinkInterval,
				Cursor:        isTerminal(os.Stdout),
			}
			_, err = renderer.Render(ctx, body)
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return report(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	}
}

func newImageCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate an image and print its URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptFromArgs(v, args)
			if err != nil {
				return report(cmd.ErrOrStderr(), err)
			}

			url, err := newClient(v).GenerateImage(cmd.Context(), prompt)
			if err != nil {
				// 图片失败时展示服务端返回的错误信息
				var reqErr *client.RequestError
				if errors.As(err, &reqErr) && reqErr.Status != 0 && reqErr.Notice != client.NoticeUnauthorized {
					fmt.Fprintln(cmd.ErrOrStderr(), reqErr.Message)
					return errReported
				}
				return report(cmd.ErrOrStderr(), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func newRecordsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "List your image generations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := newClient(v).Records(cmd.Context())
			if err != nil {
				return report(cmd.ErrOrStderr(), err)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no generations yet")
				return nil
			}
			for _, rec := range list {
				fmt.Fprintf(out, "%s  %s\n    %s\n", rec.CreatedAt.Local().Format(time.DateTime), rec.Prompt, rec.URL)
			}
			return nil
		},
	}
}
