package main

import (
	"fmt"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/csdb/txstore/godb"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "start an interactive session against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			rl, err := readline.New("txshell> ")
			if err != nil {
				return err
			}
			defer rl.Close()
			return runREPL(eng, rl)
		},
	}
}

func printErr(err error) {
	fmt.Println("error:", err)
}
