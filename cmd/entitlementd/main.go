// Command entitlementd runs the device entitlement and command dispatch service.
package main

func main() {
	Execute()
}
