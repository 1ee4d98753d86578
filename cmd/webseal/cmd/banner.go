package cmd

import (
	"fmt"
)

const banner = `
 __          __  _     _____            _
 \ \        / / | |   / ____|          | |
  \ \  /\  / /__| |__| (___   ___  __ _| |
   \ \/  \/ / _ \ '_ \\___ \ / _ \/ _` + "`" + ` | |
    \  /\  /  __/ |_) |___) |  __/ (_| | |
     \/  \/ \___|_.__/_____/ \___|\__,_|_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Session Credential Service - Version %s\x1b[0m\n\n", Version)
}
