package main

import (
	"net/url"
)

var connectorFactories = []ConnectorFactory{
	&SFTPConnectorFactory{},
	&SCPConnectorFactory{},
	&FTPConnectorFactory{},
	// add more
}

func getConnectorFactory(u *url.URL) ConnectorFactory {
	for _, factory := range connectorFactories {
		if factory.Accept(u) {
			return factory
		}
	}
	return nil
}

func defaultPort(scheme string) int {
	if scheme == "ftp" {
		return 21
	}
	return 22
}
