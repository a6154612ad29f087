package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/chatd/docs.go -o docs`.
//
// @title           chatd API
// @version         1.0
// @description     Request-scoped model inference: chat endpoint plus operator endpoints on the admin listener.
//
// @contact.name   chatd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
