package cmd

import (
	"github.com/spf13/cobra"

	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/hexdec"
)

var (
	// hex2dec command flags
	skipErrors   bool
	stopOnError  bool
	breakOnBlank bool
)

var hex2decCmd = &cobra.Command{
	Use:   "hex2dec",
	Short: "Rewrite hex numbers on stdin as decimal",
	Long: `hex2dec copies stdin to stdout, replacing every hex token of two or more
digits (optionally 0x-prefixed) with its decimal value, right-aligned to the
token's width so column layouts such as readelf and nm output survive.`,
	Annotations: map[string]string{skipSetup: "true"},
	Args:        cobra.NoArgs,
	RunE:        runHex2Dec,
}

func init() {
	rootCmd.AddCommand(hex2decCmd)

	binName := BinName()
	hex2decCmd.Example = `  readelf -S ./app | ` + binName + ` hex2dec
  nm -S ./app | ` + binName + ` hex2dec --skip-errors`

	hex2decCmd.Flags().BoolVar(&skipErrors, "skip-errors", false, "Leave tokens that do not fit in 128 bits unchanged")
	hex2decCmd.Flags().BoolVar(&stopOnError, "stop-on-error", true, "Fail on the first line that cannot be converted")
	hex2decCmd.Flags().BoolVar(&breakOnBlank, "break-on-blank", false, "Stop at the first blank line")
}

func runHex2Dec(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	opts := hexdec.Options{SkipErrors: skipErrors, StopOnError: stopOnError, BreakOnBlank: breakOnBlank}
	err := hexdec.Filter(cmd.InOrStdin(), cmd.OutOrStdout(), opts, func(e *hexdec.LineError) {
		log.Warn("Skipped %v", e)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeHexParseError, "hex2dec failed", err)
	}
	return nil
}
