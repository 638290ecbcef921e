// Package connector holds the types shared by the source and sink sides of
// the connector runtime: flattened parameter maps, connector definitions and
// the URL adapter contract.
//
// The protocols themselves live in the source and sink subpackages.
package connector
