package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/lunelang/lune"
)

var (
	// Version can be set with the Go linker.
	Version = "master"
	// AppName is the name of this app, as displayed in the help text
	// of the root command.
	AppName = "lune"
)

var (
	flagExpr     string
	flagManifest string

	errColor  = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

func newState(fs afero.Fs) (*lune.State, error) {
	opts := []lune.Option{lune.WithFs(fs)}
	m, err := loadManifest(fs, flagManifest)
	if err != nil {
		return nil, err
	}
	if m != nil {
		opts = append(opts, m.options()...)
	}
	return lune.New(opts...), nil
}

func reportError(err error) error {
	if e, ok := err.(*lune.Error); ok {
		errColor.Fprintf(os.Stderr, "%s: ", AppName)
		fmt.Fprintln(os.Stderr, e.Message)
		for _, line := range e.Traceback {
			fmt.Fprintln(os.Stderr, line)
		}
		os.Exit(1)
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:          AppName + " [script]",
	Short:        "run a lune script",
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()
		l, err := newState(fs)
		if err != nil {
			return err
		}
		if flagExpr != "" {
			if _, err := l.EvalString(flagExpr); err != nil {
				return reportError(err)
			}
			return nil
		}
		if len(args) == 0 {
			return cmd.Help()
		}
		if _, err := l.EvalFile(args[0]); err != nil {
			return reportError(err)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <script>",
	Short: "compile a script and print its bytecode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()
		l, err := newState(fs)
		if err != nil {
			return err
		}
		f, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if status := l.Load(f, "@"+args[0], "t"); status != lune.Ok {
			msg, _ := l.ToString(-1)
			errColor.Fprintf(os.Stderr, "%s: ", AppName)
			fmt.Fprintln(os.Stderr, msg)
			os.Exit(1)
		}
		listing, err := l.Listing(-1)
		if err != nil {
			return err
		}
		infoColor.Fprintf(os.Stdout, "; %s\n", args[0])
		fmt.Fprint(os.Stdout, listing)
		return nil
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile <script>",
	Short: "compile a script to a binary chunk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strip, _ := cmd.Flags().GetBool("strip")
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = strings.TrimSuffix(args[0], ".lune") + ".lunec"
		}
		fs := afero.NewOsFs()
		l, err := newState(fs)
		if err != nil {
			return err
		}
		f, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if status := l.Load(f, "@"+args[0], "t"); status != lune.Ok {
			msg, _ := l.ToString(-1)
			errColor.Fprintf(os.Stderr, "%s: ", AppName)
			fmt.Fprintln(os.Stderr, msg)
			os.Exit(1)
		}
		out, err := fs.Create(output)
		if err != nil {
			return err
		}
		defer out.Close()
		return l.Dump(out, strip)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the interpreter version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", AppName, Version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagExpr, "execute", "e", "", "execute the given chunk")
	rootCmd.PersistentFlags().StringVar(&flagManifest, "manifest", "", "path to a lune.toml run manifest")
	compileCmd.Flags().Bool("strip", false, "strip debug information")
	compileCmd.Flags().StringP("output", "o", "", "output file")
	rootCmd.AddCommand(listCmd, compileCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", AppName, err)
		os.Exit(1)
	}
}
