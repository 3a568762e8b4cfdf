package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the wallet session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).print(http.MethodGet, "/session", nil)
		},
	}
}

func sessionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).print(http.MethodPost, "/session/"+action, nil)
		},
	}
}
