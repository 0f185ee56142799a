// Package lockhint reports the locker's state to systemd-logind over
// its D-Bus interface, [org.freedesktop.login1], and watches the
// session for external unlock requests such as
// `loginctl unlock-session`.
//
// [org.freedesktop.login1]: https://www.freedesktop.org/software/systemd/man/latest/org.freedesktop.login1.html
package lockhint
