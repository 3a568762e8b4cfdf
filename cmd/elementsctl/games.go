package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/chainsafe/elements-duel/pkg/game"
)

func gamesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "games",
		Short: "List, create and play games",
	}
	cmd.AddCommand(
		gamesListCmd(),
		gamesShowCmd(),
		gamesCreateCmd(),
		gamesJoinCmd(),
		gamesRevealCmd(),
		gameActionCmd("auto-reveal", "Reveal using the move and secret stored in the vault"),
		gameActionCmd("cancel", "Cancel an open game you created"),
		gameActionCmd("claim-timeout", "Claim the pot after the creator missed the reveal deadline", "claim"),
	)
	return cmd
}

func gamesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List games from the local view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sort, _ := cmd.Flags().GetString("sort")
			status, _ := cmd.Flags().GetString("status")
			player, _ := cmd.Flags().GetString("player")

			q := url.Values{}
			if sort != "" {
				if _, err := game.ParseSortMode(sort); err != nil {
					return err
				}
				q.Set("sort", sort)
			}
			if status != "" {
				q.Set("status", status)
			}
			if player != "" {
				if !common.IsHexAddress(player) {
					return fmt.Errorf("invalid player address %q", player)
				}
				q.Set("player", player)
			}
			path := "/games"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return newClient(cmd).print(http.MethodGet, path, nil)
		},
	}
	cmd.Flags().String("sort", "", "newest, oldest, highest_bet or lowest_bet")
	cmd.Flags().String("status", "", "filter by status")
	cmd.Flags().String("player", "", "filter by participant address")
	return cmd
}

func gamesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return newClient(cmd).print(http.MethodGet, fmt.Sprintf("/games/%d", id), nil)
		},
	}
}

func gamesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <bet> <move>",
		Short: "Open a game with a committed move",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			move, err := game.ParseMove(args[1])
			if err != nil {
				return err
			}
			secret, _ := cmd.Flags().GetString("secret")
			referrer, _ := cmd.Flags().GetString("referrer")

			body := map[string]any{"bet": args[0], "move": move, "secret": secret}
			if referrer != "" {
				if !common.IsHexAddress(referrer) {
					return fmt.Errorf("invalid referrer address %q", referrer)
				}
				body["referrer"] = referrer
			}
			return newClient(cmd).print(http.MethodPost, "/games", body)
		},
	}
	cmd.Flags().String("secret", "", "commitment secret; generated when empty")
	cmd.Flags().String("referrer", "", "referrer address")
	return cmd
}

func gamesJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <id> <move>",
		Short: "Join an open game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			move, err := game.ParseMove(args[1])
			if err != nil {
				return err
			}
			bet, _ := cmd.Flags().GetString("bet")
			body := map[string]any{"move": move, "bet": bet}
			return newClient(cmd).print(http.MethodPost, fmt.Sprintf("/games/%d/join", id), body)
		},
	}
	cmd.Flags().String("bet", "", "expected bet; the game's bet is used when empty")
	return cmd
}

func gamesRevealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal <id>",
		Short: "Reveal the committed move",
		Long:  "Reveal the committed move. Without --move and --secret the vault entry is used.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			moveArg, _ := cmd.Flags().GetString("move")
			secret, _ := cmd.Flags().GetString("secret")

			body := map[string]any{}
			if moveArg != "" {
				move, err := game.ParseMove(moveArg)
				if err != nil {
					return err
				}
				body["move"] = move
				body["secret"] = secret
			}
			return newClient(cmd).print(http.MethodPost, fmt.Sprintf("/games/%d/reveal", id), body)
		},
	}
	cmd.Flags().String("move", "", "committed move")
	cmd.Flags().String("secret", "", "committed secret")
	cmd.MarkFlagsRequiredTogether("move", "secret")
	return cmd
}

func gameActionCmd(action, short string, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     action + " <id>",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return newClient(cmd).print(http.MethodPost, fmt.Sprintf("/games/%d/%s", id, action), nil)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <address>",
		Short: "Show a player's statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid player address %q", args[0])
			}
			return newClient(cmd).print(http.MethodGet, "/players/"+args[0]+"/stats", nil)
		},
	}
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).print(http.MethodGet, "/leaderboard", nil)
		},
	}
}

func rewardPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reward-pool",
		Short: "Show the reward pool balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).print(http.MethodGet, "/reward-pool", nil)
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-read games and stats from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).print(http.MethodPost, "/refresh", nil)
		},
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid game id %q", s)
	}
	return id, nil
}
