// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"context"
	"errors"
	"os"
	"sync/atomic"

	"github.com/spf13/pflag"

	"github.com/tombee/trclient/internal/cli/prompt"
	"github.com/tombee/trclient/internal/config"
	"github.com/tombee/trclient/pkg/trclient"
)

// PinEnv supplies the account PIN without a prompt.
const PinEnv = "TRCLIENT_PIN"

// CredentialFlags are the login flags shared by login and subscribe.
type CredentialFlags struct {
	Phone string
	Pin   string
}

// Register adds --phone and --pin to fs.
func (f *CredentialFlags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Phone, "phone", "", "Phone number in international format (default: auth.phone_number)")
	fs.StringVar(&f.Pin, "pin", "", "Account PIN (default: $"+PinEnv+", else prompt)")
}

// CredentialSource resolves the phone number from --phone, then the
// configuration, then a prompt. The PIN comes from --pin, then $TRCLIENT_PIN,
// then a prompt.
func CredentialSource(cfg *config.Config, flags CredentialFlags, c *prompt.Collector) trclient.CredentialSource {
	return func(ctx context.Context) (string, string, error) {
		phone := flags.Phone
		if phone == "" {
			phone = cfg.Auth.PhoneNumber
		}
		if phone == "" {
			p, err := c.PhoneNumber(ctx, "")
			if err != nil {
				return "", "", err
			}
			phone = p
		} else if err := prompt.ValidatePhoneNumber(phone); err != nil {
			return "", "", err
		}

		pin := flags.Pin
		if pin == "" {
			pin = os.Getenv(PinEnv)
		}
		if pin == "" {
			p, err := c.Pin(ctx)
			if err != nil {
				return "", "", err
			}
			pin = p
		} else if err := prompt.ValidatePin(pin); err != nil {
			return "", "", err
		}

		return phone, pin, nil
	}
}

// Login builds a client and logs it in, prompting for whatever a full login
// needs. The caller owns the returned client.
func (r *Runtime) Login(ctx context.Context, flags CredentialFlags) (*trclient.Client, error) {
	collector := r.Collector()

	// Login reports success only, so prompts that failed for want of a
	// terminal are recorded here to pick the exit code.
	var noTTY atomic.Bool
	track := func(err error) error {
		if errors.Is(err, prompt.ErrNonInteractive) {
			noTTY.Store(true)
		}
		return err
	}
	source := CredentialSource(r.Config, flags, collector)
	creds := func(ctx context.Context) (string, string, error) {
		phone, pin, err := source(ctx)
		return phone, pin, track(err)
	}
	devicePin := func(ctx context.Context) (string, error) {
		pin, err := collector.DevicePin(ctx)
		return pin, track(err)
	}

	c, err := r.NewClient(creds)
	if err != nil {
		return nil, err
	}

	if !c.Login(ctx, devicePin) {
		c.Close(context.WithoutCancel(ctx))
		if noTTY.Load() {
			return nil, NewNonInteractiveError("login failed",
				errors.New("a full login needs a terminal to prompt for a PIN"))
		}
		return nil, NewLoginError("login failed", errors.New("see log output for details"))
	}
	return c, nil
}
