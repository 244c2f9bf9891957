// Package job defines named job kinds that the HTTP surface turns into task
// work functions, along with the registry that resolves them by name and the
// built-in jobs the server ships with.
package job
