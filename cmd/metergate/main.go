// Package main is the entry point for metergate.
//
//	@title						metergate - Metered Prediction Gateway
//	@version					1.0
//	@description				Authenticated, per-call metered access to a contract address prediction service, with payment webhooks that top up balances.
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token from POST /login (format: "Bearer {token}")
package main

func main() {
	Execute()
}
