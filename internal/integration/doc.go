// Package integration runs the guest profiling scenario against a live NEAR
// node and a deployed guest token contract.
//
// The tests are skipped unless NEAR_CONTRACT_NAME is set, making them safe to
// include in CI/CD pipelines.
//
// # Running Integration Tests
//
//	NEAR_ENV=testnet \
//	NEAR_CONTRACT_NAME=dev-1234-5678 \
//	NEAR_CONTRACT_KEY=ed25519:... \
//	GUESTS_ACCOUNT_SECRET=ed25519:... \
//	go test ./internal/integration/...
//
// Skip integration tests in CI:
//
//	go test -short ./...
//
// # Environment Variables
//
//   - NEAR_ENV: testnet, mainnet or localnet (default: testnet)
//   - NEAR_NODE_URL: RPC endpoint overriding the network preset
//   - NEAR_CONTRACT_NAME: account the guest token contract is deployed to
//   - NEAR_CONTRACT_KEY or NEAR_CONTRACT_SEED_PHRASE: contract account key,
//     otherwise it is read from NEAR_CREDENTIALS_DIR (default ~/.near-credentials)
//   - GUESTS_ACCOUNT_SECRET: secret key of guests.<contract>
//
// # Test Order
//
// SetupSuite creates the test account and registers the guest. The cases then
// run in a fixed order because each builds on the state left by the previous
// one: funding, the two measured transfers, claim_drop and upgrade_guest.
package integration
