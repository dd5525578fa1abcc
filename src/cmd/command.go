package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/admi-n/audit-consensus/src/config"
	"github.com/admi-n/audit-consensus/src/internal"
	"github.com/admi-n/audit-consensus/src/internal/ai"
	"github.com/admi-n/audit-consensus/src/internal/download"
	"github.com/admi-n/audit-consensus/src/internal/pipeline"
	"github.com/admi-n/audit-consensus/src/internal/report"
	"github.com/admi-n/audit-consensus/src/internal/report/renderers"
	"github.com/admi-n/audit-consensus/src/strategy/prompts"
)

// auditOptions audit 子命令的参数
type auditOptions struct {
	file           string
	address        string
	name           string
	models         []string
	crossValidated bool
	format         string
	out            string
	store          bool
	template       string
	ipfsHash       string
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run every configured model against a contract and merge their findings",
		Example: `  audit-consensus audit --file Vault.sol
  audit-consensus audit --address 0x00000000219ab540356cBB839Cbe05303d7705Fa --models gpt,deepseek --cross-validated`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeAudit(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "Solidity source file to audit")
	f.StringVarP(&opts.address, "address", "a", "", "verified contract address to fetch from Etherscan")
	f.StringVarP(&opts.name, "name", "n", "", "contract name (default: file name or Etherscan contract name)")
	f.StringSliceVarP(&opts.models, "models", "m", nil, "model ids to use (default: all configured models)")
	f.BoolVar(&opts.crossValidated, "cross-validated", false, "only keep findings reported by at least two models")
	f.StringVar(&opts.format, "format", "", "report format: md | json (default from settings)")
	f.StringVarP(&opts.out, "out", "o", "", "output directory for file reports (default from settings)")
	f.BoolVar(&opts.store, "store", false, "save the report with the configured storage driver")
	f.StringVar(&opts.template, "prompt-template", "", "prompt template name under strategy/prompts or a file path (default from settings)")
	f.StringVar(&opts.ipfsHash, "certificate", "", "IPFS hash of the uploaded report; prints mintCertificate calldata")
	return cmd
}

func executeAudit(cmd *cobra.Command, root *rootOptions, opts *auditOptions) error {
	ctx := cmd.Context()
	logger := root.logger

	if (opts.file == "") == (opts.address == "") {
		return errors.New("exactly one of --file or --address is required")
	}

	settings, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	if len(settings.Models) == 0 {
		return errors.New("no models configured (run `audit-consensus config init`)")
	}

	modelIDs := opts.models
	if len(modelIDs) == 0 {
		modelIDs = settings.ModelIDs()
	}
	configured := make(map[string]bool, len(settings.Models))
	for _, id := range settings.ModelIDs() {
		configured[id] = true
	}
	for _, id := range modelIDs {
		if !configured[id] {
			logger.Warn().Str("model", id).Msg("model is not configured and will be reported as failed")
		}
	}

	input, err := loadInput(ctx, settings, opts, root)
	if err != nil {
		return err
	}
	input.ModelIDs = modelIDs

	templatePath := opts.template
	if templatePath == "" {
		templatePath = settings.Prompt.Template
	}
	var templateContent string
	if templatePath != "" {
		if templateContent, err = prompts.ResolveTemplate(prompts.DefaultDir, templatePath); err != nil {
			return err
		}
	}

	clients, err := ai.NewClients(ai.SelectModels(settings.ModelConfigs(), modelIDs), logger)
	if err != nil {
		return err
	}
	invoker := ai.NewInvoker(clients, settings.InvokerConfig(), logger)
	defer invoker.Close()

	p, err := pipeline.New(invoker, settings.PipelineConfig(opts.crossValidated, templateContent), logger)
	if err != nil {
		return err
	}

	logger.Info().Str("contract", input.Name()).Strs("models", modelIDs).Msg("starting audit")
	sr, err := p.Run(ctx, input)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Warn().Msg("audit interrupted; saving the partial report")
	}

	// 被中断时依然保存已有结果
	saveCtx := context.WithoutCancel(ctx)

	format := opts.format
	if format == "" {
		format = settings.Report.Format
	}
	gen, err := report.NewGenerator(format)
	if err != nil {
		return err
	}

	var storage report.Storage
	if opts.store {
		s, closeStorage, err := config.OpenStorage(saveCtx, settings.Storage, logger)
		if err != nil {
			return err
		}
		defer closeStorage()
		storage = s
	} else {
		dir := opts.out
		if dir == "" {
			dir = settings.Storage.OutputDir
		}
		storage = report.NewFileStorage(dir)
	}

	location, err := report.NewReporter(gen, storage, logger).GenerateAndSave(saveCtx, sr)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderers.NewTerminalRenderer().Render(renderers.Summary{
		ContractName: sr.ContractName,
		Score:        sr.SecurityScore,
		Risk:         string(sr.RiskLevel),
		Findings:     sr.MergedFindings,
		ModelsUsed:   sr.ModelsUsed,
		ModelsFailed: sr.ModelsFailed,
		Degraded:     sr.Degraded,
		ReportPath:   location,
	}))

	if opts.ipfsHash != "" {
		cert, err := report.NewCertificate(sr, input.ContractAddress, opts.ipfsHash)
		if err != nil {
			return fmt.Errorf("certificate: %w", err)
		}
		fmt.Fprintf(out, "Certificate: score=%d risk=%s reportHash=%s\n", cert.SecurityScore, cert.RiskLabel, cert.ReportHash.Hex())
		fmt.Fprintf(out, "Calldata: %s\n", hexutil.Encode(cert.Calldata))
	}
	return nil
}

// loadInput 从文件或 Etherscan 读取源码
func loadInput(ctx context.Context, settings *config.Settings, opts *auditOptions, root *rootOptions) (internal.AuditInput, error) {
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return internal.AuditInput{}, fmt.Errorf("read source: %w", err)
		}
		name := opts.name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(opts.file), filepath.Ext(opts.file))
		}
		return internal.AuditInput{SourceCode: string(data), ContractName: name, ContractAddress: opts.address}, nil
	}

	fetcher, err := download.NewEtherscanFetcher(settings.EtherscanConfig(), root.logger)
	if err != nil {
		return internal.AuditInput{}, err
	}
	if settings.RPC.URL != "" {
		rpc, err := download.DialRPC(ctx, settings.RPC.URL)
		if err != nil {
			return internal.AuditInput{}, err
		}
		defer rpc.Close()
		fetcher.WithCodeReader(rpc)
	}

	src, err := fetcher.Fetch(ctx, opts.address)
	if err != nil {
		return internal.AuditInput{}, err
	}
	if src.Implementation != "" {
		root.logger.Warn().
			Str("proxy", src.Address).
			Str("implementation", src.Implementation).
			Msg("address is a proxy; auditing the proxy source only")
	}
	name := opts.name
	if name == "" {
		name = src.ContractName
	}
	return internal.AuditInput{SourceCode: src.SourceCode, ContractName: name, ContractAddress: src.Address}, nil
}

func newModelsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			inv := settings.InvokerConfig()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tTIMEOUT\tAPI KEY")
			for _, m := range settings.ModelConfigs() {
				timeout := inv.DefaultTimeout
				if t, ok := inv.Timeouts[m.ID]; ok {
					timeout = t
				}
				key := "missing"
				if m.APIKey != "" {
					key = "set"
				}
				model := m.Model
				if model == "" {
					model = "(default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Provider, model, timeout, key)
			}
			return w.Flush()
		},
	}
}

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default settings file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			root.logger.Info().Str("path", path).Msg("settings written")
			fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s; API keys are read from OPENAI_API_KEY, DEEPSEEK_API_KEY and ETHERSCAN_API_KEY\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", filepath.Join("config", config.DefaultFileName+".yaml"), "where to write the settings file")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
