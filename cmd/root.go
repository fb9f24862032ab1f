package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "p2p",
	Short: "Peer-to-peer backup network simulator",
	Long: "Discrete-event simulation of a peer-to-peer backup network in which " +
		"nodes store erasure-coded fragments of each other's data and exchange " +
		"them over bandwidth-limited links.",
}

func Execute() {
	godotenv.Load()
	cobra.CheckErr(rootCmd.Execute())
}
