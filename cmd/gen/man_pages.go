package gen

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/oocsi/internal/meta"
)

var (
	manDir  string
	docsDir string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for the oocsi tool",
	Long: `This command automatically generates up-to-date man pages of the
	oocsi tool. By default, it creates the man page files
	in the "man" directory under the current directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "OOCSI Manual",
			Source:  fmt.Sprintf("oocsi %s", meta.Version),
		}

		dir, err := ensureDir(manDir)
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Println("Generating oocsi man pages in", dir, "...")

		if err := doc.GenManTree(cmd.Root(), header, dir); err != nil {
			return err
		}

		fmt.Println("Done.")

		return nil
	},
}

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown documentation for the oocsi tool",

	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := ensureDir(docsDir)
		if err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Println("Generating oocsi docs in", dir, "...")

		if err := doc.GenMarkdownTree(cmd.Root(), dir); err != nil {
			return err
		}

		fmt.Println("Done.")

		return nil
	},
}

func init() {
	dirFlag(ManPagesCmd, &manDir, "man/")
	dirFlag(MarkdownCmd, &docsDir, "docs/")
}
