package main

import "storefront-service/cmd/storefrontctl/cmd"

func main() {
	cmd.Execute()
}
