package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"byggassistent/internal/config"
	"byggassistent/internal/model"
	"byggassistent/internal/service"

	"github.com/spf13/cobra"
)

func newAskCommand() *cobra.Command {
	var (
		sections   []string
		matchers   []string
		generate   bool
		perSection bool
	)
	cmd := &cobra.Command{
		Use:   "ask [spørsmål]",
		Short: "在命令行上回答一个问题，输出 JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Conf
			if generate {
				cfg.LLM.Enabled = true
			}
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			return ask(cmd.Context(), a, cmd.OutOrStdout(), query, sections, matchers, generate, perSection)
		},
	}
	cmd.Flags().StringSliceVarP(&sections, "sections", "s", nil, "只在这些文档中检索，如 TEK17,PBL")
	cmd.Flags().StringSliceVarP(&matchers, "matchers", "m", nil, "匹配器：lexical, fuzzy, semantic")
	cmd.Flags().BoolVarP(&generate, "generate", "g", false, "使用语言模型生成回答")
	cmd.Flags().BoolVar(&perSection, "per-section", false, "按文档分别检索（仅生成模式）")
	return cmd
}

func ask(ctx context.Context, a *app, out io.Writer, query string, sections, matchers []string, generate, perSection bool) error {
	var resp interface{}
	if generate {
		if a.chat == nil {
			return errors.New("生成模式未启用")
		}
		answer, err := a.chat.Answer(ctx, service.ChatRequest{
			Query: query, Sections: sections, Matchers: matchers, PerSection: perSection,
		})
		if err != nil {
			return err
		}
		resp = answer
	} else {
		answer, err := a.search.Ask(ctx, service.SearchRequest{Query: query, Sections: sections, Matchers: matchers})
		if err != nil {
			return err
		}
		resp = model.SearchResponse{Summary: answer.Summary, References: answer.References}
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
