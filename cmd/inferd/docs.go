package main

// General API documentation for swaggo. Run `swag init -g cmd/inferd/main.go`
// to generate docs.
//
// @title           inferd API
// @version         1.0
// @description     HTTP API for bounded-context streaming text generation sessions.
//
// @contact.name   inferd maintainers
// @contact.url    https://github.com/your-org/inferd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
